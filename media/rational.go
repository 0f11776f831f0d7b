package media

import (
	"fmt"
	"math"
	"time"
)

// NoPTS marks an absent timestamp. It sorts below every valid timestamp.
const NoPTS int64 = math.MinInt64

// Rational is an exact ratio. Stream time bases are rationals: a timestamp
// of t in time base 1/90000 means t/90000 seconds. The zero value means
// unset.
type Rational struct {
	Num int
	Den int
}

// NewRational builds the ratio num/den.
func NewRational(num, den int) Rational {
	return Rational{Num: num, Den: den}
}

// IsValid reports whether the rational can be used as a time base.
func (r Rational) IsValid() bool {
	return r.Den != 0
}

// Float returns the rational as a float64, or 0 when unset.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Rescale converts a timestamp between time bases, preserving NoPTS. The
// conversion ratio is reduced before multiplying to limit overflow.
func Rescale(v int64, from, to Rational) int64 {
	if v == NoPTS || from.Den == 0 || to.Den == 0 || to.Num == 0 {
		return NoPTS
	}
	num := int64(from.Num) * int64(to.Den)
	den := int64(from.Den) * int64(to.Num)
	if num == 0 || den == 0 {
		return NoPTS
	}
	if g := gcd64(abs64(num), abs64(den)); g > 1 {
		num /= g
		den /= g
	}
	return v * num / den
}

// ToDuration converts a timestamp in the given time base to wall-clock
// time. NoPTS or an unset base converts to 0.
func ToDuration(v int64, tb Rational) time.Duration {
	if v == NoPTS || tb.Den == 0 {
		return 0
	}
	return time.Duration(float64(v) * tb.Float() * float64(time.Second))
}

func gcd64(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
