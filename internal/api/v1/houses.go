package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/domus/internal/authz"
	"github.com/gosuda/domus/internal/domain"
)

type HouseBody struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func houseBody(h *domain.House) HouseBody {
	return HouseBody{ID: h.ID, OwnerID: h.OwnerID, Name: h.Name, Address: h.Address, CreatedAt: h.CreatedAt}
}

type CreateHouseInput struct {
	Body struct {
		Name    string     `json:"name" minLength:"1" maxLength:"255" doc:"House name"`
		Address string     `json:"address,omitempty" maxLength:"1024" doc:"Postal address"`
		OwnerID *uuid.UUID `json:"owner_id,omitempty" doc:"Owning user; defaults to the caller"`
	}
}

type GetHouseInput struct {
	ID uuid.UUID `path:"id" doc:"House ID"`
}

type HouseOutput struct {
	Body HouseBody
}

type ListHousesInput struct {
	Limit  int `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Max results"`
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Offset for pagination"`
}

type ListHousesOutput struct {
	Body []HouseBody
}

func RegisterHouseRoutes(api huma.API, store DataStore, guard Authorizer) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-house",
		Method:        http.MethodPost,
		Path:          "/houses",
		Summary:       "Create a house in the caller's tenant",
		Tags:          []string{"Houses"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateHouseInput) (*HouseOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		scope := domain.TenantScope{TenantID: p.TenantID}
		if err := guard.AuthorizeScope(ctx, p, authz.ResourceHouse, scope, authz.OpManage).Err(); err != nil {
			return nil, accessError(err, "house", "create house")
		}

		owner := p.UserID
		if input.Body.OwnerID != nil {
			owner = *input.Body.OwnerID
		}

		h := &domain.House{
			ID:        uuid.New(),
			TenantID:  p.TenantID,
			OwnerID:   owner,
			Name:      input.Body.Name,
			Address:   input.Body.Address,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.Houses().Create(ctx, h); err != nil {
			// The owner FK is tenant-scoped, so another tenant's user reads as missing.
			return nil, accessError(err, "owner", "create house")
		}

		return &HouseOutput{Body: houseBody(h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-houses",
		Method:      http.MethodGet,
		Path:        "/houses",
		Summary:     "List houses in the caller's tenant",
		Tags:        []string{"Houses"},
	}, func(ctx context.Context, input *ListHousesInput) (*ListHousesOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		scope := domain.TenantScope{TenantID: p.TenantID}
		if err := guard.AuthorizeScope(ctx, p, authz.ResourceHouse, scope, authz.OpRead).Err(); err != nil {
			return nil, accessError(err, "house", "list houses")
		}

		houses, err := store.Houses().List(ctx, p.TenantID, input.Limit, input.Offset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list houses", err)
		}

		body := make([]HouseBody, 0, len(houses))
		for _, h := range houses {
			body = append(body, houseBody(h))
		}
		return &ListHousesOutput{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-house",
		Method:      http.MethodGet,
		Path:        "/houses/{id}",
		Summary:     "Get a house by ID",
		Tags:        []string{"Houses"},
	}, func(ctx context.Context, input *GetHouseInput) (*HouseOutput, error) {
		p, err := principal(ctx)
		if err != nil {
			return nil, err
		}

		decision := guard.Authorize(ctx, p, authz.ResourceRef{Type: authz.ResourceHouse, ID: input.ID}, authz.OpRead)
		if err := decision.Err(); err != nil {
			return nil, accessError(err, "house", "get house")
		}

		h, err := store.Houses().GetByID(ctx, p.TenantID, input.ID)
		if err != nil {
			return nil, accessError(err, "house", "get house")
		}

		return &HouseOutput{Body: houseBody(h)}, nil
	})
}
