package fingerprint

import (
	"math/rand"
	"testing"
)

func TestSum_Deterministic(t *testing.T) {
	diff := []byte("diff --git a/main.go b/main.go\n+func main() {}\n")
	if Sum(diff) != Sum(diff) {
		t.Fatal("same input produced different fingerprints")
	}
}

func TestSum_EmptySentinel(t *testing.T) {
	if Sum(nil) != EmptyDiff {
		t.Errorf("Sum(nil) = %q, want empty sentinel %q", Sum(nil), EmptyDiff)
	}
	if Sum([]byte{}) != EmptyDiff {
		t.Error("Sum of empty slice should equal the empty sentinel")
	}
	if !IsEmpty(Sum(nil)) {
		t.Error("IsEmpty should report true for the empty sentinel")
	}
	if IsEmpty(Sum([]byte("x"))) {
		t.Error("IsEmpty should report false for non-empty diffs")
	}
}

func TestSum_SingleByteDifference(t *testing.T) {
	a := []byte("+password = \"admin123\"\n")
	b := []byte("+password = \"admin124\"\n")
	if Sum(a) == Sum(b) {
		t.Fatal("diffs differing by one byte must not collide")
	}
}

func TestSum_RandomizedCorpus(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seen := make(map[string][]byte, 5000)
	for i := 0; i < 5000; i++ {
		buf := make([]byte, 16+rng.Intn(256))
		rng.Read(buf)
		fp := Sum(buf)
		if prev, ok := seen[fp]; ok && string(prev) != string(buf) {
			t.Fatalf("collision between %q and %q", prev, buf)
		}
		seen[fp] = buf
	}
}

func TestSumString_MatchesSum(t *testing.T) {
	s := "diff --git a/x b/x\n+1\n"
	if SumString(s) != Sum([]byte(s)) {
		t.Error("SumString and Sum disagree")
	}
}
