package event

import (
	"errors"
	"testing"
)

type blank struct{}

func (blank) EventType() Type { return " " }

func TestRegisterRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := Register[created](registry); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register[created](registry); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := Register[blank](registry); err == nil {
		t.Fatal("expected blank type error")
	}
	if err := Register[created](nil); err == nil {
		t.Fatal("expected nil registry error")
	}
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	registry := NewRegistry()
	MustRegister[created](registry)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	MustRegister[created](registry)
}

func TestRegistryEncodeDecode(t *testing.T) {
	registry := NewRegistry()
	MustRegister[created](registry)
	MustRegister[renamed](registry)

	data, err := registry.Encode(renamed{Name: "b"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"name":"b"}` {
		t.Fatalf("encoded = %s", data)
	}
	payload, err := registry.Decode("TestRenamed", data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := payload.(renamed)
	if !ok || got.Name != "b" {
		t.Fatalf("decoded = %#v", payload)
	}

	types := registry.Types()
	if len(types) != 2 || types[0] != "TestCreated" || types[1] != "TestRenamed" {
		t.Fatalf("types = %v", types)
	}
}

func TestRegistryRejectsUnknownTypes(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Encode(created{}); !errors.Is(err, ErrTypeUnregistered) {
		t.Fatalf("expected ErrTypeUnregistered on encode, got %v", err)
	}
	if _, err := registry.Decode("TestCreated", []byte(`{}`)); !errors.Is(err, ErrTypeUnregistered) {
		t.Fatalf("expected ErrTypeUnregistered on decode, got %v", err)
	}
	if _, err := registry.Encode(nil); !errors.Is(err, ErrPayloadMissing) {
		t.Fatalf("expected ErrPayloadMissing, got %v", err)
	}
}

func TestRegistryDecodeMalformed(t *testing.T) {
	registry := NewRegistry()
	MustRegister[created](registry)
	if _, err := registry.Decode("TestCreated", []byte(`{`)); err == nil {
		t.Fatal("expected decode error")
	}
}
