package datastore

import (
	"context"

	"gorm.io/gorm/clause"
)

// SavePushToken registers a token, moving it to the new owner if the
// device changed hands.
func (ds *DataStore) SavePushToken(ctx context.Context, token *PushToken) error {
	err := ds.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "admin", "updated_at"}),
	}).Create(token).Error
	if err != nil {
		return dbError(err, "save-push-token")
	}
	return nil
}

// PushTokensForUsers returns the tokens registered by the given users
func (ds *DataStore) PushTokensForUsers(ctx context.Context, userIDs []uint) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var tokens []string
	if err := ds.db(ctx).Model(&PushToken{}).Where("user_id IN ?", userIDs).Pluck("token", &tokens).Error; err != nil {
		return nil, dbError(err, "tokens-for-users")
	}
	return tokens, nil
}

// AdminPushTokens returns the tokens of administrators
func (ds *DataStore) AdminPushTokens(ctx context.Context) ([]string, error) {
	var tokens []string
	if err := ds.db(ctx).Model(&PushToken{}).Where("admin = ?", true).Pluck("token", &tokens).Error; err != nil {
		return nil, dbError(err, "admin-tokens")
	}
	return tokens, nil
}

// DeletePushTokens prunes tokens the push service reported as dead
func (ds *DataStore) DeletePushTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res := ds.db(ctx).Where("token IN ?", tokens).Delete(&PushToken{})
	if res.Error != nil {
		return 0, dbError(res.Error, "delete-push-tokens")
	}
	return res.RowsAffected, nil
}
