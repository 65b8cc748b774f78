package ping

import (
	"testing"
	"time"
)

func TestStats(t *testing.T) {
	var st stats
	if st.avg() != 0 {
		t.Errorf("avg of nothing = %v", st.avg())
	}
	for _, ms := range []int{30, 10, 20} {
		st.sent++
		st.add(time.Duration(ms) * time.Millisecond)
	}
	st.sent++

	if st.min != 10*time.Millisecond || st.max != 30*time.Millisecond {
		t.Errorf("min/max = %v/%v", st.min, st.max)
	}
	if st.avg() != 20*time.Millisecond {
		t.Errorf("avg = %v", st.avg())
	}
	if st.ok != 3 || st.sent != 4 {
		t.Errorf("ok/sent = %d/%d", st.ok, st.sent)
	}
}
