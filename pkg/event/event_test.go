package event

import (
	"testing"
	"time"
)

func TestPartitionID_String(t *testing.T) {
	pid := PartitionID{Topic: "dbserver1.inventory.customers", Partition: 3}
	if got := pid.String(); got != "dbserver1.inventory.customers-3" {
		t.Errorf("String() = %v, want dbserver1.inventory.customers-3", got)
	}
}

func TestWindowOf(t *testing.T) {
	size := 2 * time.Second

	tests := []struct {
		name      string
		ts        time.Time
		wantStart int64 // epoch millis
	}{
		{"inside first window", time.UnixMilli(100), 0},
		{"late in first window", time.UnixMilli(1900), 0},
		{"start of second window", time.UnixMilli(2000), 2000},
		{"inside second window", time.UnixMilli(2100), 2000},
		{"exact multiple belongs to own window", time.UnixMilli(4000), 4000},
		{"one milli before boundary", time.UnixMilli(3999), 2000},
		{"pre-epoch timestamp floors down", time.UnixMilli(-100), -2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WindowOf(tt.ts, size)
			if w.Start.UnixMilli() != tt.wantStart {
				t.Errorf("WindowOf(%d).Start = %d, want %d", tt.ts.UnixMilli(), w.Start.UnixMilli(), tt.wantStart)
			}
			if got := w.End.Sub(w.Start); got != size {
				t.Errorf("window length = %v, want %v", got, size)
			}
			if !w.Contains(tt.ts) {
				t.Errorf("window %v does not contain its own timestamp %d", w, tt.ts.UnixMilli())
			}
		})
	}
}

func TestWindowOf_SameFloorSameWindow(t *testing.T) {
	size := 2 * time.Second

	a := WindowOf(time.UnixMilli(100), size)
	b := WindowOf(time.UnixMilli(1900), size)
	if a != b {
		t.Errorf("timestamps with equal floor assigned to different windows: %v vs %v", a, b)
	}

	c := WindowOf(time.UnixMilli(2100), size)
	if a == c {
		t.Error("timestamps in different intervals assigned to the same window")
	}
}

func TestWindow_Contains(t *testing.T) {
	w := WindowOf(time.UnixMilli(0), 2*time.Second)

	if !w.Contains(time.UnixMilli(0)) {
		t.Error("start boundary must be inclusive")
	}
	if w.Contains(time.UnixMilli(2000)) {
		t.Error("end boundary must be exclusive")
	}
}

func TestWindow_Key(t *testing.T) {
	w := WindowOf(time.UnixMilli(2100), 2*time.Second)
	if w.Key() != 2000 {
		t.Errorf("Key() = %d, want 2000", w.Key())
	}
}
