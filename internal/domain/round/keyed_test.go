package round

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestKeyedMutex(t *testing.T) {
	Convey("Given a keyed mutex", t, func() {
		k := newKeyedMutex()

		Convey("When many goroutines increment per-key counters", func() {
			counts := map[string]int{"a": 0, "b": 0}
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				for _, key := range []string{"a", "b"} {
					wg.Add(1)
					go func() {
						defer wg.Done()
						unlock := k.Lock(key)
						counts[key]++
						unlock()
					}()
				}
			}
			wg.Wait()

			Convey("Then no update should be lost and no entry should leak", func() {
				So(counts["a"], ShouldEqual, 50)
				So(counts["b"], ShouldEqual, 50)
				So(k.size(), ShouldEqual, 0)
			})
		})
	})
}
