package protocol

import "math"

// Vec3 is a position or movement vector in world units.
type Vec3 struct {
	X float32
	Y float32
	Z float32
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Quat is a rotation quaternion.
type Quat struct {
	X float32
	Y float32
	Z float32
	W float32
}

// Identity is the no-rotation quaternion.
var Identity = Quat{W: 1}

// YawRotation returns the rotation of deg degrees about the up (Y) axis.
func YawRotation(deg float32) Quat {
	half := float64(deg) * math.Pi / 360
	return Quat{Y: float32(math.Sin(half)), W: float32(math.Cos(half))}
}
