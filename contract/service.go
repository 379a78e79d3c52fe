package contract

import "context"

// Service exposes owner-scoped contract operations to the API layer.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, ownerID, title string) (Record, error) {
	return s.repo.Create(ctx, ownerID, title)
}

// Get returns the contract if the caller owns it or holds shared access
// earned by signing it.
func (s *Service) Get(ctx context.Context, callerID, contractID string) (Record, error) {
	rec, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return Record{}, err
	}
	if rec.OwnerID == callerID {
		return rec, nil
	}
	shared, err := s.repo.HasSharedAccess(ctx, callerID, contractID)
	if err != nil {
		return Record{}, err
	}
	if !shared {
		return Record{}, ErrForbidden
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, callerID string) ([]Record, error) {
	return s.repo.ListAccessible(ctx, callerID)
}
