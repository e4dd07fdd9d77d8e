package chat

import "testing"

func TestToolInvocationLifecycle(t *testing.T) {
	inv := NewToolInvocation("tc-1", "read_file", nil)
	if inv.Status != ToolPending {
		t.Fatalf("status = %s, want pending", inv.Status)
	}
	if err := inv.Approve(); err != nil {
		t.Fatal(err)
	}
	if err := inv.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := inv.Complete("contents"); err != nil {
		t.Fatal(err)
	}
	if inv.Status != ToolCompleted || inv.Result != "contents" || inv.FinishedAt == nil {
		t.Errorf("completed invocation = %+v", inv)
	}
}

func TestToolInvocationGuards(t *testing.T) {
	inv := NewToolInvocation("tc-1", "read_file", nil)
	if err := inv.Begin(); err == nil {
		t.Error("begin before approval should fail")
	}
	if err := inv.Complete("x"); err == nil {
		t.Error("complete before executing should fail")
	}
	if err := inv.Deny(); err != nil {
		t.Fatal(err)
	}
	if err := inv.Approve(); err == nil {
		t.Error("approve after deny should fail")
	}
}

func TestToolInvocationFail(t *testing.T) {
	inv := NewToolInvocation("tc-1", "search", nil)
	inv.Approve()
	inv.Begin()
	if err := inv.Fail("connection refused"); err != nil {
		t.Fatal(err)
	}
	if inv.Status != ToolFailed || inv.Error != "connection refused" {
		t.Errorf("failed invocation = %+v", inv)
	}
}
