package prediction

import (
	"math"
	"time"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// Features places an hour of the week on two unit circles so 23:00 sits
// next to 00:00 and Sunday next to Monday.
type Features struct {
	HourSin float64
	HourCos float64
	DaySin  float64
	DayCos  float64
	Weekend float64
}

// Encode uses Monday as day 0, matching InteractionRecord.DayOfWeek.
func Encode(t time.Time) Features {
	return EncodeHour(t.Hour(), (int(t.Weekday())+6)%7)
}

func EncodeHour(hour, day int) Features {
	h := 2 * math.Pi * float64(hour) / 24
	d := 2 * math.Pi * float64(day) / 7
	f := Features{
		HourSin: math.Sin(h),
		HourCos: math.Cos(h),
		DaySin:  math.Sin(d),
		DayCos:  math.Cos(d),
	}
	if day >= 5 {
		f.Weekend = 1
	}
	return f
}

func encodeRecord(r model.InteractionRecord) Features {
	return EncodeHour(r.Hour, r.DayOfWeek)
}

// weekday features count less than hour-of-day ones
const dayWeight = 0.5

func distance2(a, b Features) float64 {
	dh := sq(a.HourSin-b.HourSin) + sq(a.HourCos-b.HourCos)
	dd := sq(a.DaySin-b.DaySin) + sq(a.DayCos-b.DayCos) + sq(a.Weekend-b.Weekend)
	return dh + dayWeight*dd
}

func sq(v float64) float64 { return v * v }
