package function

import "math"

// hueToCie converts a hue/saturation pair (hue in [0,360), saturation in
// [0,1]) to a CIE1931 xy chromaticity pair, ported from
// _examples/original_source/software/util/src/Cie1931.cpp: HSV(hue, sat, 1)
// -> sRGB -> gamma-expanded linear RGB -> XYZ (Wide RGB D65 matrix) -> xy.
func hueToCie(hue, saturation float32) (x, y float32) {
	r, g, b := hsvToRGB(hue, saturation, 1)

	gammaExpand := func(c float32) float32 {
		if c > 0.04045 {
			return float32(math.Pow(float64((c+0.055)/1.055), 2.4))
		}
		return c / 12.92
	}
	r, g, b = gammaExpand(r), gammaExpand(g), gammaExpand(b)

	const (
		m00, m01, m02 = 0.649926, 0.103455, 0.197109
		m10, m11, m12 = 0.234327, 0.743075, 0.022598
		m20, m21, m22 = 0.0, 0.053077, 1.035763
	)

	bigX := r*m00 + g*m01 + b*m02
	bigY := r*m10 + g*m11 + b*m12
	bigZ := r*m20 + g*m21 + b*m22

	sum := bigX + bigY + bigZ
	if sum == 0 {
		return 0, 0
	}
	return bigX / sum, bigY / sum
}

// hsvToRGB converts HSV (hue in [0,360), saturation and value in [0,1]) to
// sRGB in [0,1].
func hsvToRGB(hue, saturation, value float32) (r, g, b float32) {
	c := value * saturation
	hPrime := hue / 60
	x := c * (1 - float32(math.Abs(math.Mod(float64(hPrime), 2)-1)))
	m := value - c

	var r1, g1, b1 float32
	switch {
	case hPrime < 1:
		r1, g1, b1 = c, x, 0
	case hPrime < 2:
		r1, g1, b1 = x, c, 0
	case hPrime < 3:
		r1, g1, b1 = 0, c, x
	case hPrime < 4:
		r1, g1, b1 = 0, x, c
	case hPrime < 5:
		r1, g1, b1 = x, 0, c
	default:
		r1, g1, b1 = c, 0, x
	}
	return r1 + m, g1 + m, b1 + m
}
