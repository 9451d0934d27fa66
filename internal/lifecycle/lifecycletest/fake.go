// Package lifecycletest provides an in-memory lifecycle.Platform for tests.
package lifecycletest

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"playtestbot/internal/lifecycle"
	"playtestbot/internal/model"
)

// Sent is one recorded notification.
type Sent struct {
	Channel model.ChannelRef
	lifecycle.Notification
}

// Platform is a fake chat platform. Zero value is ready to use.
type Platform struct {
	mu        sync.Mutex
	history   map[model.ChannelRef][]model.Message
	resources []model.Resource
	sent      []Sent
	nextID    int
	created   int
	destroyed int

	// Error injection.
	HistoryErr error
	CreateErr  error
	NotifyErr  error
	// DestroyErr fails DestroyResource for the resource with the given label.
	DestroyErr map[string]error
	// BeforeCreate, if set, runs at the start of CreateResource without the
	// fake's lock held.
	BeforeCreate func(label string)
}

var _ lifecycle.Platform = (*Platform)(nil)

// Post appends a message to channel's history.
func (p *Platform) Post(channel model.ChannelRef, msg model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.history == nil {
		p.history = make(map[model.ChannelRef][]model.Message)
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("m%d", len(p.history[channel])+1)
	}
	p.history[channel] = append(p.history[channel], msg)
}

// AddResource registers an existing live resource.
func (p *Platform) AddResource(label string) model.Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(label)
}

func (p *Platform) addLocked(label string) model.Resource {
	p.nextID++
	r := model.Resource{ID: fmt.Sprintf("r%d", p.nextID), Label: label}
	p.resources = append(p.resources, r)
	return r
}

// Labels returns the labels of the live resources.
func (p *Platform) Labels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.resources))
	for _, r := range p.resources {
		out = append(out, r.Label)
	}
	return out
}

// Sent returns the notifications posted so far.
func (p *Platform) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// SentTo returns the texts posted to channel.
func (p *Platform) SentTo(channel model.ChannelRef) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, s := range p.sent {
		if s.Channel == channel {
			out = append(out, s.Text)
		}
	}
	return out
}

// Created and Destroyed count successful resource operations.
func (p *Platform) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

func (p *Platform) Destroyed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

func (p *Platform) History(_ context.Context, channel model.ChannelRef, after time.Time) iter.Seq2[model.Message, error] {
	p.mu.Lock()
	msgs := slices.Clone(p.history[channel])
	herr := p.HistoryErr
	p.mu.Unlock()

	return func(yield func(model.Message, error) bool) {
		if herr != nil {
			yield(model.Message{}, herr)
			return
		}
		for _, m := range msgs {
			if !m.Timestamp.After(after) {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (p *Platform) Resources(context.Context) ([]model.Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.resources), nil
}

func (p *Platform) CreateResource(_ context.Context, _ model.ChannelRef, label string) (model.Resource, error) {
	if p.BeforeCreate != nil {
		p.BeforeCreate(label)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return model.Resource{}, p.CreateErr
	}
	p.created++
	return p.addLocked(label), nil
}

func (p *Platform) DestroyResource(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.IndexFunc(p.resources, func(r model.Resource) bool { return r.ID == id })
	if i < 0 {
		return fmt.Errorf("resource %s not found", id)
	}
	if err := p.DestroyErr[p.resources[i].Label]; err != nil {
		return err
	}
	p.resources = slices.Delete(p.resources, i, i+1)
	p.destroyed++
	return nil
}

func (p *Platform) Notify(_ context.Context, channel model.ChannelRef, n lifecycle.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NotifyErr != nil {
		return p.NotifyErr
	}
	p.sent = append(p.sent, Sent{Channel: channel, Notification: n})
	return nil
}
