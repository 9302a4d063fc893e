package comms

import "fmt"

// Datatype identifies the element type of a communication buffer. The set is
// portable; translation to transport-native values happens inside the
// Collective implementation.
type Datatype int

const (
	Char Datatype = iota
	Uint8
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

// Size returns the byte width of one element. An unrecognized datatype is a
// programming error, not a runtime condition.
func (d Datatype) Size() int {
	switch d {
	case Char, Uint8:
		return 1
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	panic(fmt.Sprintf("comms: unknown datatype %d", int(d)))
}

func (d Datatype) String() string {
	switch d {
	case Char:
		return "char"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Int64:
		return "int64"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	panic(fmt.Sprintf("comms: unknown datatype %d", int(d)))
}

// ReduceOp identifies the reduction operator applied by reducing collectives.
type ReduceOp int

const (
	Sum ReduceOp = iota
	Prod
	Min
	Max
)

func (o ReduceOp) String() string {
	switch o {
	case Sum:
		return "sum"
	case Prod:
		return "prod"
	case Min:
		return "min"
	case Max:
		return "max"
	}
	panic(fmt.Sprintf("comms: unknown reduce op %d", int(o)))
}
