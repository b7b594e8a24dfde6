package media

import (
	"sync"
	"testing"
)

func TestSequencerPerKindMonotonic(t *testing.T) {
	t.Parallel()

	var seq Sequencer
	for want := uint32(1); want <= 5; want++ {
		if got := seq.Next(KindScreen); got != want {
			t.Fatalf("screen id = %d, want %d", got, want)
		}
	}
	// Kinds count independently.
	if got := seq.Next(KindAudio); got != 1 {
		t.Fatalf("audio id = %d, want 1", got)
	}
}

func TestSequencerConcurrent(t *testing.T) {
	t.Parallel()

	var seq Sequencer
	const goroutines, perG = 8, 1000

	var wg sync.WaitGroup
	seen := make([]map[uint32]bool, goroutines)
	for g := 0; g < goroutines; g++ {
		seen[g] = make(map[uint32]bool, perG)
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				seen[g][seq.Next(KindWebcam)] = true
			}
		}(g)
	}
	wg.Wait()

	all := make(map[uint32]bool, goroutines*perG)
	for _, m := range seen {
		for id := range m {
			if all[id] {
				t.Fatalf("frame id %d issued twice", id)
			}
			all[id] = true
		}
	}
	if len(all) != goroutines*perG {
		t.Fatalf("issued %d distinct ids, want %d", len(all), goroutines*perG)
	}
}

func TestFrameKindValidity(t *testing.T) {
	t.Parallel()

	for _, k := range []FrameKind{KindScreen, KindAudio, KindWebcam} {
		if !k.Valid() {
			t.Fatalf("%s reported invalid", k)
		}
	}
	if FrameKind(3).Valid() || FrameKind(200).Valid() {
		t.Fatal("out-of-catalog kind reported valid")
	}
}
