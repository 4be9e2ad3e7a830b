package forecast

import "testing"

func TestAlignToLive(t *testing.T) {
	points := []ForecastPoint{
		{Yhat: 100, YhatLower: 90, YhatUpper: 110, ProbIncrease: 0.6},
		{Yhat: 104, YhatLower: 92, YhatUpper: 116, ProbIncrease: 0.7},
	}

	t.Run("shift bounds", func(t *testing.T) {
		got, offset := AlignToLive(points, 112, true)
		if offset != 12 {
			t.Fatalf("offset = %v, want 12", offset)
		}
		if got[0].Yhat != 112 || got[1].Yhat != 116 {
			t.Errorf("yhat = %v, %v; want 112, 116", got[0].Yhat, got[1].Yhat)
		}
		if got[1].YhatLower != 104 || got[1].YhatUpper != 128 {
			t.Errorf("bounds = [%v, %v], want [104, 128]", got[1].YhatLower, got[1].YhatUpper)
		}
		if got[1].ProbIncrease != 0.7 {
			t.Error("probability must not change")
		}
	})

	t.Run("keep bounds", func(t *testing.T) {
		got, _ := AlignToLive(points, 112, false)
		if got[0].YhatLower != 90 || got[0].YhatUpper != 110 {
			t.Errorf("bounds moved: [%v, %v]", got[0].YhatLower, got[0].YhatUpper)
		}
	})

	t.Run("clamps at zero", func(t *testing.T) {
		got, offset := AlignToLive(points, 5, true)
		if offset != -95 {
			t.Fatalf("offset = %v, want -95", offset)
		}
		if got[0].YhatLower != 0 || got[0].Yhat != 5 {
			t.Errorf("got %+v", got[0])
		}
	})

	t.Run("input untouched", func(t *testing.T) {
		AlignToLive(points, 500, true)
		if points[0].Yhat != 100 {
			t.Error("AlignToLive mutated its input")
		}
	})

	t.Run("empty", func(t *testing.T) {
		got, offset := AlignToLive(nil, 10, true)
		if got != nil || offset != 0 {
			t.Errorf("got %v, %v", got, offset)
		}
	})
}
