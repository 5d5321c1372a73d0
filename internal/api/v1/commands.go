package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/command"
	"github.com/gosuda/domus/internal/domain"
)

type SubmitCommandInput struct {
	Body struct {
		HouseID  uuid.UUID `json:"house_id" doc:"Target house"`
		Prompt   string    `json:"prompt,omitempty" maxLength:"65536" doc:"Command text; may be empty when audio_ref is set"`
		Language string    `json:"language,omitempty" maxLength:"35" doc:"BCP 47 language tag"`
		AudioRef string    `json:"audio_ref,omitempty" maxLength:"1024" doc:"Object-store key of recorded audio"`
	}
}

type SubmitCommandOutput struct {
	Body struct {
		CommandID     uuid.UUID `json:"command_id"`
		CorrelationID string    `json:"correlation_id"`
		Status        string    `json:"status" enum:"accepted"`
	}
}

// CommandStatusBody is the polled view of a command. Prompt and internal
// error details never appear here.
type CommandStatusBody struct {
	CommandID    uuid.UUID           `json:"command_id"`
	State        domain.CommandState `json:"state"`
	ResponseText string              `json:"response_text,omitempty"`
	SpeechRef    string              `json:"speech_ref,omitempty"`
	ErrorReason  string              `json:"error_reason,omitempty"`
	AttemptCount int                 `json:"attempt_count"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func statusBody(s *domain.CommandStatus) CommandStatusBody {
	return CommandStatusBody{
		CommandID:    s.CommandID,
		State:        s.State,
		ResponseText: s.ResponseText,
		SpeechRef:    s.SpeechRef,
		ErrorReason:  s.ErrorReason,
		AttemptCount: s.AttemptCount,
		UpdatedAt:    s.UpdatedAt,
	}
}

type GetCommandInput struct {
	ID uuid.UUID `path:"id" doc:"Command ID"`
}

type GetCommandOutput struct {
	Body CommandStatusBody
}

type CancelCommandInput struct {
	ID uuid.UUID `path:"id" doc:"Command ID"`
}

type CancelCommandOutput struct {
	Body struct {
		State     domain.CommandState `json:"state"`
		Cancelled bool                `json:"cancelled" doc:"False when processing had already begun"`
	}
}

type ListCommandsInput struct {
	HouseID uuid.UUID `path:"id" doc:"House ID"`
	Limit   int       `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Max results"`
	Offset  int       `query:"offset" minimum:"0" default:"0" doc:"Offset for pagination"`
}

type ListCommandsOutput struct {
	Body []CommandStatusBody
}

func RegisterCommandRoutes(api huma.API, commands CommandService) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-command",
		Method:        http.MethodPost,
		Path:          "/commands",
		Summary:       "Submit a voice or text command",
		Tags:          []string{"Commands"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *SubmitCommandInput) (*SubmitCommandOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		acc, err := commands.Submit(ctx, p, command.SubmitRequest{
			HouseID:  input.Body.HouseID,
			Prompt:   input.Body.Prompt,
			Language: input.Body.Language,
			AudioRef: input.Body.AudioRef,
		})
		if err != nil {
			if r, ok := command.AsRejection(err); ok {
				return nil, rejectionError(r)
			}
			log.Error().Err(err).Str("tenant_id", p.TenantID.String()).Msg("v1.submit-command: failed")
			return nil, huma.Error503ServiceUnavailable("command could not be queued, retry later")
		}

		out := &SubmitCommandOutput{}
		out.Body.CommandID = acc.CommandID
		out.Body.CorrelationID = acc.CorrelationID
		out.Body.Status = acc.Status
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-command",
		Method:      http.MethodGet,
		Path:        "/commands/{id}",
		Summary:     "Poll command status",
		Tags:        []string{"Commands"},
	}, func(ctx context.Context, input *GetCommandInput) (*GetCommandOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		status, err := commands.Poll(ctx, p, input.ID)
		if err != nil {
			return nil, accessError(err, "command", "get command")
		}

		return &GetCommandOutput{Body: statusBody(status)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-command",
		Method:      http.MethodPost,
		Path:        "/commands/{id}/cancel",
		Summary:     "Cancel a pending command",
		Tags:        []string{"Commands"},
	}, func(ctx context.Context, input *CancelCommandInput) (*CancelCommandOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		res, err := commands.Cancel(ctx, p, input.ID)
		if err != nil {
			return nil, accessError(err, "command", "cancel command")
		}

		out := &CancelCommandOutput{}
		out.Body.State = res.Status.State
		out.Body.Cancelled = res.Applied
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-house-commands",
		Method:      http.MethodGet,
		Path:        "/houses/{id}/commands",
		Summary:     "List a house's commands, newest first",
		Tags:        []string{"Commands"},
	}, func(ctx context.Context, input *ListCommandsInput) (*ListCommandsOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		statuses, err := commands.List(ctx, p, input.HouseID, input.Limit, input.Offset)
		if err != nil {
			return nil, accessError(err, "house", "list commands")
		}

		body := make([]CommandStatusBody, 0, len(statuses))
		for _, s := range statuses {
			body = append(body, statusBody(s))
		}
		return &ListCommandsOutput{Body: body}, nil
	})
}
