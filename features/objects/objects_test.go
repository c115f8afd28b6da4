package objects

import (
	"context"
	"errors"
	"testing"

	"spacelink/connection"
	"spacelink/message"
)

type pipe struct {
	frames chan []byte
	done   chan struct{}
}

func (p *pipe) Send(frame []byte) {
	select {
	case p.frames <- frame:
	case <-p.done:
	}
}

func (p *pipe) Disconnect() {}

func newClient(t *testing.T, store *Store) *Client {
	t.Helper()
	pc := &pipe{frames: make(chan []byte, 256), done: make(chan struct{})}
	ps := &pipe{frames: make(chan []byte, 256), done: make(chan struct{})}
	client, server := connection.New(pc), connection.New(ps)
	if err := Serve(server, store); err != nil {
		t.Fatal(err)
	}
	pump := func(p *pipe, to *connection.Connection) {
		for {
			select {
			case f := <-p.frames:
				to.Receive(f)
			case <-p.done:
				return
			}
		}
	}
	go pump(pc, server)
	go pump(ps, client)
	t.Cleanup(func() { close(pc.done); close(ps.done) })
	return NewClient(client, &message.AccessAuthorization{Token: "t"})
}

func exceptionReason(t *testing.T, err error) string {
	t.Helper()
	var exc *message.Exception
	if !errors.As(err, &exc) {
		t.Fatalf("expect *message.Exception, got %v", err)
	}
	return exc.Reason
}

func TestItemLifecycle(t *testing.T) {
	store := NewStore()
	c := newClient(t, store)
	ctx := context.Background()

	id, err := c.CreateItem(ctx, map[string]string{"name": "cube", "color": "red"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || len(store.IDs()) != 1 {
		t.Fatalf("expect one item, got id=%q ids=%v", id, store.IDs())
	}

	if err := c.UpdateProperties(ctx, id, map[string]string{"color": "blue"}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddAbility(ctx, id, "spin", map[string]string{"rate": "2"}); err != nil {
		t.Fatal(err)
	}

	props, err := c.RequestProperties(ctx, id, "")
	if err != nil {
		t.Fatal(err)
	}
	if props["color"] != "blue" || props["name"] != "cube" || props["spin.rate"] != "2" {
		t.Fatalf("unexpected properties %v", props)
	}

	// 通配符过滤
	props, _ = c.RequestProperties(ctx, id, "spin.*")
	if len(props) != 1 || props["spin.rate"] != "2" {
		t.Fatalf("expect only ability props, got %v", props)
	}

	if err := c.RemoveAbility(ctx, id, "spin"); err != nil {
		t.Fatal(err)
	}
	if got := exceptionReason(t, c.RemoveAbility(ctx, id, "spin")); got != ReasonNoSuchAbility {
		t.Fatalf("expect %q, got %q", ReasonNoSuchAbility, got)
	}

	if err := c.DeleteItem(ctx, id); err != nil {
		t.Fatal(err)
	}
	if len(store.IDs()) != 0 {
		t.Fatalf("expect store empty, got %v", store.IDs())
	}
}

func TestMissingItem(t *testing.T) {
	c := newClient(t, NewStore())
	ctx := context.Background()

	_, err := c.RequestProperties(ctx, "ghost", "")
	if got := exceptionReason(t, err); got != ReasonNoSuchItem {
		t.Fatalf("expect %q, got %q", ReasonNoSuchItem, got)
	}
	for name, err := range map[string]error{
		"delete": c.DeleteItem(ctx, "ghost"),
		"update": c.UpdateProperties(ctx, "ghost", map[string]string{"a": "b"}),
		"add":    c.AddAbility(ctx, "ghost", "spin", nil),
		"remove": c.RemoveAbility(ctx, "ghost", "spin"),
	} {
		if got := exceptionReason(t, err); got != ReasonNoSuchItem {
			t.Fatalf("%s: expect %q, got %q", name, ReasonNoSuchItem, got)
		}
	}
}

func TestAddAbilityRequiresName(t *testing.T) {
	c := newClient(t, NewStore())
	id, _ := c.CreateItem(context.Background(), nil)
	if got := exceptionReason(t, c.AddAbility(context.Background(), id, "", nil)); got != "missing parameter" {
		t.Fatalf("unexpected reason %q", got)
	}
}
