package sizeclass

import "testing"

func TestClass1MatchesSpecWorkedExample(t *testing.T) {
	table := Build(Default(4096))
	c := table.Class(1)

	if c.ObjectSize != 8 {
		t.Fatalf("object size = %d, want 8", c.ObjectSize)
	}
	if c.BlockBytes != 16384 {
		t.Fatalf("block bytes = %d, want 16384", c.BlockBytes)
	}
	if c.Pages != 4 {
		t.Fatalf("pages = %d, want 4", c.Pages)
	}
	if c.HeaderSlots != 16 {
		t.Fatalf("header slots = %d, want 16", c.HeaderSlots)
	}
	if c.PerPageSlots != 1 {
		t.Fatalf("per page slots = %d, want 1", c.PerPageSlots)
	}
	if c.UsableObjects != 2029 {
		t.Fatalf("usable objects = %d, want 2029", c.UsableObjects)
	}
}

func TestClass9MatchesSpecWorkedExample(t *testing.T) {
	table := Build(Default(4096))
	c := table.Class(9)

	if c.ObjectSize != 2048 {
		t.Fatalf("object size = %d, want 2048", c.ObjectSize)
	}
	if c.UsableObjects != 64 {
		t.Fatalf("usable objects = %d, want 64 (129 objects need 3 blocks)", c.UsableObjects)
	}
}

func TestSmallClassesShareOneCacheClass(t *testing.T) {
	table := Build(Default(4096))

	// Classes whose 1024x hint still lands under MinBlock all clamp to the
	// same 16 KiB block size and must therefore share one cache slot.
	cc0 := table.Class(0).CacheClass
	for c := 0; c < table.NumClasses(); c++ {
		if table.Class(c).BlockBytes == table.Class(0).BlockBytes {
			if table.Class(c).CacheClass != cc0 {
				t.Fatalf("class %d shares block_bytes with class 0 but has a different cache class", c)
			}
		} else {
			if table.Class(c).CacheClass == cc0 {
				t.Fatalf("class %d has a different block_bytes than class 0 but shares its cache class", c)
			}
			break
		}
	}
}

func TestClassOfBoundaries(t *testing.T) {
	cases := []struct {
		size int
		want int
	}{
		{1, 0}, {4, 0},
		{5, 1}, {8, 1},
		{9, 2}, {16, 2},
		{17, 3}, {32, 3},
		{2048, 9},
	}
	for _, tc := range cases {
		if got := ClassOf(tc.size); got != tc.want {
			t.Fatalf("ClassOf(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestUsableObjectsNeverExceedCapacity(t *testing.T) {
	table := Build(Default(4096))
	for c := 0; c < table.NumClasses(); c++ {
		cl := table.Class(c)
		total := cl.BlockBytes / cl.ObjectSize
		reserved := cl.HeaderSlots + cl.PerPageSlots*(cl.Pages-1)
		if cl.UsableObjects != total-reserved {
			t.Fatalf("class %d: usable = %d, want %d", c, cl.UsableObjects, total-reserved)
		}
		if cl.UsableObjects <= 0 {
			t.Fatalf("class %d: non-positive usable object count %d", c, cl.UsableObjects)
		}
	}
}
