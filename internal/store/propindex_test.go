package store

import "testing"

func TestPropertyIndex_BindAndFindEqual(t *testing.T) {
	pi := NewPropertyIndex()
	pi.Bind("Person", "age", IntValue(30), 1, 1)
	pi.Bind("Person", "age", IntValue(30), 2, 1)
	pi.Bind("Person", "age", IntValue(40), 3, 1)

	got := pi.FindEqual("Person", "age", IntValue(30), 10, 0)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("FindEqual(age=30) = %v, want [1 2]", got)
	}
}

func TestPropertyIndex_FindRange(t *testing.T) {
	pi := NewPropertyIndex()
	pi.Bind("Person", "age", IntValue(20), 1, 1)
	pi.Bind("Person", "age", IntValue(30), 2, 1)
	pi.Bind("Person", "age", IntValue(40), 3, 1)

	got := pi.FindRange("Person", "age", IntValue(25), IntValue(40), 10, 0)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("FindRange(25,40) = %v, want [2 3]", got)
	}
}

func TestPropertyIndex_VisibilityWindow(t *testing.T) {
	pi := NewPropertyIndex()
	pi.Bind("Person", "age", IntValue(30), 1, 5) // created at ts 5

	if got := pi.FindEqual("Person", "age", IntValue(30), 3, 0); len(got) != 0 {
		t.Errorf("binding created at ts=5 should not be visible at snapshot ts=3, got %v", got)
	}
	if got := pi.FindEqual("Person", "age", IntValue(30), 5, 0); len(got) != 1 {
		t.Errorf("binding created at ts=5 should be visible at snapshot ts=5, got %v", got)
	}

	pi.Unbind("Person", "age", IntValue(30), 1, 8)
	if got := pi.FindEqual("Person", "age", IntValue(30), 7, 0); len(got) != 1 {
		t.Errorf("binding deleted at ts=8 should still be visible at snapshot ts=7, got %v", got)
	}
	if got := pi.FindEqual("Person", "age", IntValue(30), 8, 0); len(got) != 0 {
		t.Errorf("binding deleted at ts=8 should not be visible at snapshot ts=8, got %v", got)
	}
}

func TestPropertyIndex_TentativeUnbindHidesFromOwner(t *testing.T) {
	pi := NewPropertyIndex()
	pi.Bind("Person", "age", IntValue(30), 1, 1)
	pi.MarkUnbinding("Person", "age", IntValue(30), 1, 99)

	if got := pi.FindEqual("Person", "age", IntValue(30), 10, 99); len(got) != 0 {
		t.Errorf("tentative unbind should hide binding from the deleting transaction, got %v", got)
	}
	if got := pi.FindEqual("Person", "age", IntValue(30), 10, 0); len(got) != 1 {
		t.Errorf("tentative unbind should remain visible to other readers, got %v", got)
	}

	pi.ClearUnbinding("Person", "age", IntValue(30), 1, 99)
	if got := pi.FindEqual("Person", "age", IntValue(30), 10, 99); len(got) != 1 {
		t.Errorf("ClearUnbinding should restore visibility, got %v", got)
	}
}

func TestPropertyIndex_SerializeRoundTrip(t *testing.T) {
	pi := NewPropertyIndex()
	pi.Bind("Person", "age", IntValue(30), 1, 1)
	pi.Bind("Person", "name", StringValue("Ada"), 1, 1)
	pi.Bind("Company", "active", BoolValue(true), 2, 1)

	blob := pi.Serialize()
	loaded, err := DeserializePropertyIndex(blob)
	if err != nil {
		t.Fatalf("DeserializePropertyIndex: %v", err)
	}
	if got := loaded.FindEqual("Person", "age", IntValue(30), 1, 0); len(got) != 1 || got[0] != 1 {
		t.Errorf("after round trip, FindEqual(age=30) = %v, want [1]", got)
	}
	if got := loaded.FindEqual("Company", "active", BoolValue(true), 1, 0); len(got) != 1 || got[0] != 2 {
		t.Errorf("after round trip, FindEqual(active=true) = %v, want [2]", got)
	}
}

func TestPropertyIndex_SerializeOmitsDeletedBindings(t *testing.T) {
	pi := NewPropertyIndex()
	pi.Bind("Person", "age", IntValue(30), 1, 1)
	pi.Unbind("Person", "age", IntValue(30), 1, 2)

	blob := pi.Serialize()
	loaded, err := DeserializePropertyIndex(blob)
	if err != nil {
		t.Fatalf("DeserializePropertyIndex: %v", err)
	}
	if got := loaded.FindEqual("Person", "age", IntValue(30), 100, 0); len(got) != 0 {
		t.Errorf("deleted binding should not survive a checkpoint round trip, got %v", got)
	}
}
