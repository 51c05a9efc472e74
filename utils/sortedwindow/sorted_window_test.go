package sortedwindow_test

import (
	"testing"

	"github.com/jrife/strata/utils/sortedwindow"
)

func descending(a, b int) int {
	if a < b {
		return 1
	} else if a > b {
		return -1
	}

	return 0
}

func TestSortedWindow(t *testing.T) {
	sw := sortedwindow.New(descending, sortedwindow.WithLimit(1000))

	for i := 0; i < 100000; i++ {
		sw.Insert(i)
	}

	if sw.Size() != 1000 {
		t.Fatalf("expected size to be 1000, got %d", sw.Size())
	}

	i := 99999
	for iter := sw.Iterator(); iter.Next(); i-- {
		if iter.Value() != i {
			t.Fatalf("expected value to be %d, got %d", i, iter.Value())
		}
	}

	if i != 98999 {
		t.Fatalf("expected value to be 98999, got %d", i)
	}

	sw = sortedwindow.New(descending)

	for i := 0; i < 100000; i++ {
		sw.Insert(i)
	}

	if sw.Size() != 100000 {
		t.Fatalf("expected size to be 100000, got %d", sw.Size())
	}

	i = 99999
	for iter := sw.Iterator(); iter.Next(); i-- {
		if iter.Value() != i {
			t.Fatalf("expected value to be %d, got %d", i, iter.Value())
		}
	}

	if i != -1 {
		t.Fatalf("expected value to be -1, got %d", i)
	}
}

func TestSortedWindowCollapsesEqualValues(t *testing.T) {
	sw := sortedwindow.New(descending, sortedwindow.WithLimit(3))

	for _, v := range []int{5, 5, 5, 4} {
		sw.Insert(v)
	}

	if sw.Size() != 2 {
		t.Fatalf("expected size to be 2, got %d", sw.Size())
	}
}
