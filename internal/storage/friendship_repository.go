package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cpsocial/internal/models"
)

// FriendshipRepository defines the interface for friendship data operations.
// Every method that changes state does so with a single conditional
// statement, so callers learn from the returned row count whether the
// transition happened.
type FriendshipRepository interface {
	// CreateIfAbsent inserts friendship unless an edge for the same unordered
	// pair already exists. It reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, friendship *models.Friendship) (bool, error)
	GetByID(ctx context.Context, id uint) (*models.Friendship, error)
	GetByPair(ctx context.Context, userID1, userID2 uint) (*models.Friendship, error)
	// Respond moves a pending edge addressed to addresseeID to status.
	Respond(ctx context.Context, id, addresseeID uint, status models.FriendshipStatus, at time.Time) (int64, error)
	// Reopen turns a rejected edge back into a pending request from
	// requesterID, provided it was rejected before rejectedBefore.
	Reopen(ctx context.Context, id, requesterID, addresseeID uint, rejectedBefore, at time.Time) (int64, error)
	DeleteAccepted(ctx context.Context, userID1, userID2 uint) (int64, error)
	UpsertBlocked(ctx context.Context, blockerID, targetID uint, at time.Time) error
	AreUsersFriends(ctx context.Context, userID1, userID2 uint) (bool, error)
	GetFriendIDs(ctx context.Context, userID uint) ([]uint, error)
	ListAccepted(ctx context.Context, userID uint) ([]models.Friendship, error)
	ListIncomingPending(ctx context.Context, userID uint) ([]models.Friendship, error)
	ListOutgoingPending(ctx context.Context, userID uint) ([]models.Friendship, error)
}

type gormFriendshipRepository struct {
	db *gorm.DB
}

// NewGormFriendshipRepository creates a new GormFriendshipRepository.
func NewGormFriendshipRepository(db *gorm.DB) FriendshipRepository {
	return &gormFriendshipRepository{db: db}
}

func (r *gormFriendshipRepository) CreateIfAbsent(ctx context.Context, friendship *models.Friendship) (bool, error) {
	friendship.EnsureCanonicalOrder()
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_low_id"}, {Name: "user_high_id"}},
			DoNothing: true,
		}).
		Omit("Requester", "Addressee").
		Create(friendship)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormFriendshipRepository) GetByID(ctx context.Context, id uint) (*models.Friendship, error) {
	var f models.Friendship
	if err := r.db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *gormFriendshipRepository) GetByPair(ctx context.Context, userID1, userID2 uint) (*models.Friendship, error) {
	low, high := models.CanonicalPair(userID1, userID2)
	var f models.Friendship
	err := r.db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *gormFriendshipRepository) Respond(ctx context.Context, id, addresseeID uint, status models.FriendshipStatus, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("id = ? AND addressee_id = ? AND status = ?", id, addresseeID, models.FriendshipPending).
		Updates(map[string]interface{}{
			"status":       status,
			"responded_at": at,
			"updated_at":   at,
		})
	return res.RowsAffected, res.Error
}

func (r *gormFriendshipRepository) Reopen(ctx context.Context, id, requesterID, addresseeID uint, rejectedBefore, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("id = ? AND status = ? AND responded_at <= ?", id, models.FriendshipRejected, rejectedBefore).
		Updates(map[string]interface{}{
			"requester_id": requesterID,
			"addressee_id": addresseeID,
			"status":       models.FriendshipPending,
			"requested_at": at,
			"responded_at": nil,
			"updated_at":   at,
		})
	return res.RowsAffected, res.Error
}

func (r *gormFriendshipRepository) DeleteAccepted(ctx context.Context, userID1, userID2 uint) (int64, error) {
	low, high := models.CanonicalPair(userID1, userID2)
	res := r.db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ? AND status = ?", low, high, models.FriendshipAccepted).
		Delete(&models.Friendship{})
	return res.RowsAffected, res.Error
}

// UpsertBlocked records blockerID blocking targetID whatever the previous
// state of the pair was.
func (r *gormFriendshipRepository) UpsertBlocked(ctx context.Context, blockerID, targetID uint, at time.Time) error {
	f := &models.Friendship{
		RequesterID: blockerID,
		AddresseeID: targetID,
		Status:      models.FriendshipBlocked,
		BlockedBy:   &blockerID,
		RequestedAt: at,
		RespondedAt: &at,
		UpdatedAt:   at,
	}
	f.EnsureCanonicalOrder()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_low_id"}, {Name: "user_high_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"requester_id", "addressee_id", "status", "blocked_by", "responded_at", "updated_at"}),
		}).
		Omit("Requester", "Addressee").
		Create(f).Error
}

// AreUsersFriends checks if two users are already friends.
func (r *gormFriendshipRepository) AreUsersFriends(ctx context.Context, userID1, userID2 uint) (bool, error) {
	low, high := models.CanonicalPair(userID1, userID2)
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("user_low_id = ? AND user_high_id = ? AND status = ?", low, high, models.FriendshipAccepted).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetFriendIDs retrieves a list of user IDs who are friends with the given userID.
func (r *gormFriendshipRepository) GetFriendIDs(ctx context.Context, userID uint) ([]uint, error) {
	edges, err := r.ListAccepted(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(edges))
	for i := range edges {
		ids = append(ids, edges[i].OtherUser(userID))
	}
	return ids, nil
}

func (r *gormFriendshipRepository) ListAccepted(ctx context.Context, userID uint) ([]models.Friendship, error) {
	edges := make([]models.Friendship, 0)
	err := r.db.WithContext(ctx).
		Where("(requester_id = ? OR addressee_id = ?) AND status = ?", userID, userID, models.FriendshipAccepted).
		Order("responded_at DESC").
		Find(&edges).Error
	return edges, err
}

func (r *gormFriendshipRepository) ListIncomingPending(ctx context.Context, userID uint) ([]models.Friendship, error) {
	edges := make([]models.Friendship, 0)
	err := r.db.WithContext(ctx).
		Where("addressee_id = ? AND status = ?", userID, models.FriendshipPending).
		Order("requested_at DESC").
		Find(&edges).Error
	return edges, err
}

func (r *gormFriendshipRepository) ListOutgoingPending(ctx context.Context, userID uint) ([]models.Friendship, error) {
	edges := make([]models.Friendship, 0)
	err := r.db.WithContext(ctx).
		Where("requester_id = ? AND status = ?", userID, models.FriendshipPending).
		Order("requested_at DESC").
		Find(&edges).Error
	return edges, err
}
