package row

import "math"

func uint32FromFloat32(f float32) uint32 { return math.Float32bits(f) }

func uint64FromFloat64(f float64) uint64 { return math.Float64bits(f) }

func float32FromUint32(u uint32) float32 { return math.Float32frombits(u) }

func float64FromUint64(u uint64) float64 { return math.Float64frombits(u) }
