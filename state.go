package omx

import (
	"context"
	"errors"
	"fmt"
)

// State returns the component's current lifecycle state.
func (c *Component) State() (State, error) {
	return c.h.GetState()
}

// Transition moves the component to target and waits until the platform
// reports it. A timed out wait is retried once before it is returned.
func (c *Component) Transition(ctx context.Context, target State) error {
	cur, err := c.h.GetState()
	if err != nil {
		return fmt.Errorf("omx: %s get state: %w", c.name, err)
	}
	if cur == target {
		return nil
	}

	c.mu.Lock()
	c.unloading = target == StateLoaded
	c.mu.Unlock()

	if err := c.h.SendCommand(CommandStateSet, uint32(target)); err != nil {
		return fmt.Errorf("omx: %s %s -> %s: %w", c.name, cur, target, err)
	}
	c.log.Debugf("state %s -> %s", cur, target)

	err = c.waitState(ctx, target)
	var te *TimeoutError
	if errors.As(err, &te) {
		c.log.WithField("attempts", te.Attempts).Warnf("still waiting for %s, retrying", target)
		err = c.waitState(ctx, target)
	}
	return err
}

func (c *Component) waitState(ctx context.Context, target State) error {
	ok, tries, err := c.await(ctx, c.timeouts.StateAttempts, func() (bool, error) {
		s, err := c.h.GetState()
		if err != nil {
			return false, err
		}
		if s == StateInvalid {
			return false, fmt.Errorf("omx: %s entered %s", c.name, StateInvalid)
		}
		return s == target, nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return &TimeoutError{Kind: TimeoutStateTransition, Component: c.name, Want: target.String(), Attempts: tries}
	}
	return nil
}

// Walk transitions through each state in order.
func (c *Component) Walk(ctx context.Context, states ...State) error {
	for _, s := range states {
		if err := c.Transition(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// AssertState fails unless the component is in want.
func (c *Component) AssertState(want State) error {
	s, err := c.h.GetState()
	if err != nil {
		return err
	}
	if s != want {
		return fmt.Errorf("omx: %s in %s, want %s", c.name, s, want)
	}
	return nil
}
