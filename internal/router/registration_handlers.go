package router

import (
	"context"
	"fmt"

	"rosterbot/internal/registration"
	"rosterbot/internal/session"
	"rosterbot/pkg/types"
)

func registrationControls(disabled bool) []types.Component {
	return []types.Component{
		{Action: types.EventStartForm, Label: "Open form", Style: "primary", Disabled: disabled},
		{Action: types.EventCancel, Label: "Cancel", Style: "secondary", Disabled: disabled},
	}
}

func (r *Router) handleRegister(ctx context.Context, ev *types.Event) (*types.Response, error) {
	flow, err := r.deps.Registrations.Start(ev.ActorID)
	if err != nil {
		return nil, err
	}
	return &types.Response{
		Content:      msgRegisterStart,
		Components:   registrationControls(false),
		SessionToken: flow.Token(),
		Ephemeral:    true,
	}, nil
}

func (r *Router) handleStartForm(ctx context.Context, ev *types.Event) (*types.Response, error) {
	flow, err := r.registrationFlow(ev)
	if err != nil {
		return nil, err
	}
	if flow.State() != registration.StateFormOffered {
		return nil, ErrFormNotOffered
	}
	return &types.Response{
		SessionToken: flow.Token(),
		OpenForm:     true,
	}, nil
}

func (r *Router) handleSubmitForm(ctx context.Context, ev *types.Event) (*types.Response, error) {
	flow, err := r.registrationFlow(ev)
	if err != nil {
		return nil, err
	}

	draft, err := r.deps.Registrations.Submit(ctx, flow.Token(), registration.Form{
		Nickname:   ev.Field(types.FieldNickname),
		Role:       ev.Field(types.FieldRole),
		ProfileURL: ev.Field(types.FieldProfileURL),
	})
	if err != nil {
		if types.KindOf(err) == "" || flow.State() != registration.StateFormOffered {
			return nil, err
		}
		// Back on the form: keep the panel usable for another attempt.
		return &types.Response{
			Content:    "\n" + msgRetryHint,
			Components: registrationControls(false),
			Edit:       true,
		}, err
	}

	return &types.Response{
		Card: confirmationCard(draft),
		Components: []types.Component{
			{Action: types.EventConfirm, Label: "Confirm", Style: "success"},
			{Action: types.EventCancel, Label: "Cancel", Style: "secondary"},
		},
		SessionToken: flow.Token(),
		Edit:         true,
		Ephemeral:    true,
	}, nil
}

func (r *Router) handleConfirm(ctx context.Context, ev *types.Event) (*types.Response, error) {
	flow, err := r.registrationFlow(ev)
	if err != nil {
		return nil, err
	}

	character, err := r.deps.Registrations.Confirm(ctx, flow.Token(), ev.ActorName)
	if err != nil {
		return nil, err
	}

	return &types.Response{
		Content:      fmt.Sprintf(msgCommitted, character.Name, character.Score),
		Card:         characterCard(character),
		SessionToken: flow.Token(),
		Edit:         true,
		Ephemeral:    true,
		CloseSession: true,
	}, nil
}

func (r *Router) handleCancel(ctx context.Context, ev *types.Event) (*types.Response, error) {
	flow, err := r.registrationFlow(ev)
	if err != nil {
		return nil, err
	}
	if err := r.deps.Registrations.Cancel(flow.Token()); err != nil {
		return nil, err
	}
	return &types.Response{
		Content:      msgCancelled,
		Components:   registrationControls(true),
		SessionToken: flow.Token(),
		Edit:         true,
		Ephemeral:    true,
		CloseSession: true,
	}, nil
}

// handlePlatformTimeout expires whatever session the platform timed out.
// It is not guarded: the platform reports the timeout on the owner's behalf
// and a guard denial would keep the slot held.
func (r *Router) handlePlatformTimeout(ctx context.Context, ev *types.Event) (*types.Response, error) {
	s, ok := r.deps.Sessions.Get(ev.SessionToken)
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if s.OwnerID != ev.ActorID {
		return nil, session.ErrNotOwner
	}

	if s.Kind == session.KindRegistration {
		r.deps.Registrations.Expire(s.Token)
	} else {
		r.deps.Sessions.Expire(s.Token)
	}
	r.logger.Info("session timed out on platform", "user_id", ev.ActorID, "session", s.Token, "kind", s.Kind)

	return &types.Response{
		Content:      msgTimedOut,
		SessionToken: s.Token,
		Edit:         true,
		CloseSession: true,
	}, nil
}
