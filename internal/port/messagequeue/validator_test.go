package messagequeue

import "testing"

func TestValidateStateChanged(t *testing.T) {
	data := []byte(`{"context_id":"c1","from_state":"idle","to_state":"processing_user_input","event":"user_input"}`)
	if err := Validate(SubjectStateChanged, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateContentDelta(t *testing.T) {
	data := []byte(`{"context_id":"c1","message_id":"m1","current_sequence":42}`)
	if err := Validate(SubjectContentDelta, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateMessageCompleted(t *testing.T) {
	data := []byte(`{"context_id":"c1","message_id":"m1","final_sequence":99,"finish_reason":"stop"}`)
	if err := Validate(SubjectMessageCompleted, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	if err := Validate(SubjectStateChanged, []byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestValidateRejectsWrongShape(t *testing.T) {
	data := []byte(`{"context_id":42}`)
	if err := Validate(SubjectStateChanged, data); err == nil {
		t.Fatal("expected error for wrong field type")
	}
}

func TestValidateUnknownSubjectPasses(t *testing.T) {
	if err := Validate("contexts.future_thing", []byte(`{"any":"shape"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
