package generator

import (
	"context"
	"fmt"

	bookbot "github.com/opd-ai/bookbot/src"
)

// RegenerateModule replaces the content of one module, even a completed
// one, then reassembles the book when no module is left pending. A
// completed module whose regeneration fails or is cancelled keeps its
// previous content.
func (o *Orchestrator) RegenerateModule(ctx context.Context, p *bookbot.BookProject, index int) error {
	if err := validModule(p, index); err != nil {
		return err
	}
	slot, err := o.Begin(ctx, p.ID)
	if err != nil {
		return err
	}
	return slot.RegenerateModule(p, index)
}

// RegenerateRoadmap discards the roadmap and every module and generates the
// book again from planning.
func (o *Orchestrator) RegenerateRoadmap(ctx context.Context, p *bookbot.BookProject) error {
	slot, err := o.Begin(ctx, p.ID)
	if err != nil {
		return err
	}
	return slot.RegenerateRoadmap(p)
}

func validModule(p *bookbot.BookProject, index int) error {
	if p.Roadmap == nil || index < 0 || index >= len(p.Modules) {
		return fmt.Errorf("%w: %d", ErrInvalidModule, index)
	}
	return nil
}

// RegenerateModule is Orchestrator.RegenerateModule on a claimed slot.
func (s *Slot) RegenerateModule(p *bookbot.BookProject, index int) error {
	if err := s.check(p); err != nil {
		return err
	}
	defer s.Release()
	if err := validModule(p, index); err != nil {
		return err
	}
	o, ctx := s.o, s.ctx

	client, err := o.source(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := o.advance(ctx, p, bookbot.EventRegenerate); err != nil {
		return err
	}
	p.Provider, p.Model = string(client.Provider()), client.Model()
	p.Paused = false
	p.Error = ""
	p.CompletedAt = nil

	prev := p.Modules[index]
	err = o.generateModule(ctx, p, s.r, client, index)
	var cause string
	if m := p.Modules[index]; m.Status != bookbot.ModuleCompleted && prev.Status == bookbot.ModuleCompleted {
		cause = m.Error
		prev.Attempts = m.Attempts
		p.Modules[index] = prev
		o.touch(p)
		o.checkpoint(ctx, p)
		o.emit(p, index, LevelWarning, fmt.Sprintf("Module %d keeps its previous content", index+1), "")
	}
	if err != nil {
		return err
	}
	for _, m := range p.Modules {
		if m.Status == bookbot.ModulePending || m.Status == bookbot.ModuleGenerating {
			return nil
		}
	}
	if err := o.advance(ctx, p, bookbot.EventContentDone); err != nil {
		return err
	}
	if err := o.assemble(ctx, p); err != nil {
		return err
	}
	if m := p.Modules[index]; m.Status == bookbot.ModuleError {
		cause = m.Error
	}
	if cause != "" {
		return fmt.Errorf("%w: module %d: %s", ErrModuleFailed, index+1, cause)
	}
	return nil
}

// RegenerateRoadmap is Orchestrator.RegenerateRoadmap on a claimed slot.
func (s *Slot) RegenerateRoadmap(p *bookbot.BookProject) error {
	if err := s.check(p); err != nil {
		return err
	}
	defer s.Release()
	o, ctx := s.o, s.ctx

	if err := o.advance(ctx, p, bookbot.EventReset); err != nil {
		return err
	}
	p.Roadmap = nil
	p.Modules = []bookbot.Module{}
	p.FinalBook = ""
	p.Error = ""
	p.Paused = false
	p.CompletedAt = nil
	o.checkpoint(ctx, p)
	return o.run(ctx, p, s.r)
}
