package skill

import (
	"context"
	"testing"
)

func TestRegistry_RegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Skill{
		Name:        "echo",
		Description: "echoes the text argument",
		Run: func(_ context.Context, args map[string]string) (string, error) {
			return args["text"], nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	out, err := r.Invoke(context.Background(), "echo", map[string]string{"text": "hello"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "hello" {
		t.Fatalf("out=%q", out)
	}
}

func TestRegistry_UnknownSkill(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Invoke(context.Background(), "nope", nil); err == nil {
		t.Fatalf("expected error for unknown skill")
	}
}

func TestRegistry_RejectsDuplicatesAndInvalid(t *testing.T) {
	r := NewRegistry()
	s := Skill{Name: "x", Run: func(context.Context, map[string]string) (string, error) { return "", nil }}
	if err := r.Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(s); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if err := r.Register(Skill{Name: ""}); err == nil {
		t.Fatalf("expected name error")
	}
	if err := r.Register(Skill{Name: "y"}); err == nil {
		t.Fatalf("expected run error")
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	run := func(context.Context, map[string]string) (string, error) { return "", nil }
	_ = r.Register(Skill{Name: "b", Run: run})
	_ = r.Register(Skill{Name: "a", Run: run})

	list := r.List()
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "b" {
		t.Fatalf("list=%v", list)
	}
}
