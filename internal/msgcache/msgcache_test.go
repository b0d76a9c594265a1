package msgcache

import "testing"

func TestCheckAndInsertDetectsDuplicate(t *testing.T) {
	c := New()
	if c.CheckAndInsert("a") {
		t.Fatal("first insert should not be a duplicate")
	}
	if !c.CheckAndInsert("a") {
		t.Fatal("second insert of same id should be a duplicate")
	}
}

func TestSeenUnknownID(t *testing.T) {
	c := New()
	if c.Seen("missing") {
		t.Fatal("unseen id should report false")
	}
}

func TestDistinctIDsDoNotCollide(t *testing.T) {
	c := New()
	c.Insert("a")
	if c.Seen("b") {
		t.Fatal("unrelated id should not be marked seen")
	}
	if !c.Seen("a") {
		t.Fatal("inserted id should be seen")
	}
}
