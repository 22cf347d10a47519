package browser

import "testing"

func TestSimSubscribeFiltersByOrigin(t *testing.T) {
	sim := NewSim()
	ch, cancel := sim.Subscribe("https://idp.test")
	defer cancel()

	sim.Deliver("https://evil.test", "nope")
	sim.Deliver("https://idp.test", "yes")

	msg := <-ch
	if msg.Data != "yes" || msg.Origin != "https://idp.test" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	select {
	case extra := <-ch:
		t.Fatalf("filtered message delivered: %+v", extra)
	default:
	}
}

func TestSimSubscribeCancel(t *testing.T) {
	sim := NewSim()
	ch, cancel := sim.Subscribe("https://idp.test")

	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel open after cancel")
	}

	// Delivery after cancel must not panic.
	sim.Deliver("https://idp.test", "late")
}

func TestSimHiddenContextLifecycle(t *testing.T) {
	sim := NewSim()

	var hooked *SimContext
	sim.OnCreateHidden = func(ctx *SimContext) { hooked = ctx }

	ctx, err := sim.CreateHidden("https://idp.test/authorize?prompt=none")
	if err != nil {
		t.Fatalf("CreateHidden returned error: %v", err)
	}
	if hooked == nil {
		t.Fatalf("hook not invoked")
	}

	if err := ctx.PostMessage("client1 SS1", "https://idp.test"); err != nil {
		t.Fatalf("PostMessage returned error: %v", err)
	}
	sc := sim.Contexts()[0]
	if posted := sc.Posted(); len(posted) != 1 || posted[0].Data != "client1 SS1" {
		t.Fatalf("posted = %+v", sc.Posted())
	}

	if err := ctx.Destroy(); err != nil {
		t.Fatalf("Destroy returned error: %v", err)
	}
	if !sc.Destroyed() {
		t.Fatalf("context not marked destroyed")
	}
}
