package store

import "testing"

func TestLabelIndex_AddAndQuery(t *testing.T) {
	li := NewLabelIndex()
	li.Add("Person", 1)
	li.Add("Person", 2)
	li.Add("Company", 3)

	got := li.NodesByLabel("Person")
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("NodesByLabel(Person) = %v, want [1 2]", got)
	}
	if li.Count("Company") != 1 {
		t.Errorf("Count(Company) = %d, want 1", li.Count("Company"))
	}
}

func TestLabelIndex_Remove(t *testing.T) {
	li := NewLabelIndex()
	li.Add("Person", 1)
	li.Remove("Person", 1)
	if got := li.NodesByLabel("Person"); len(got) != 0 {
		t.Errorf("NodesByLabel(Person) after remove = %v, want empty", got)
	}
	if len(li.Labels()) != 0 {
		t.Error("expected empty label carrying no members to be dropped")
	}
}

func TestLabelIndex_RemoveAll(t *testing.T) {
	li := NewLabelIndex()
	li.Add("Person", 1)
	li.Add("Employee", 1)
	li.RemoveAll([]string{"Person", "Employee"}, 1)
	if li.Count("Person") != 0 || li.Count("Employee") != 0 {
		t.Error("expected both labels cleared after RemoveAll")
	}
}
