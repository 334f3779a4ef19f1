package seed

import (
	"testing"

	"github.com/glebarez/sqlite"
	duedomain "github.com/socioscloud/remesa/internal/due/domain"
	lifecycledomain "github.com/socioscloud/remesa/internal/lifecycle/domain"
	remittancedomain "github.com/socioscloud/remesa/internal/remittance/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupCatalog(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&lifecycledomain.State{}))
	return db
}

func TestEnsureStateCatalog(t *testing.T) {
	db := setupCatalog(t)

	require.NoError(t, EnsureStateCatalog(db))

	var states []lifecycledomain.State
	require.NoError(t, db.
		Where("entity_type = ?", remittancedomain.EntityTypeRemittance).
		Order("display_order").
		Find(&states).Error)
	require.Len(t, states, 6)
	assert.Equal(t, remittancedomain.RemittanceStateDraft, states[0].Code)
	assert.True(t, states[0].IsInitial)
	assert.NotEmpty(t, states[0].Description)
	assert.True(t, states[3].IsTerminal)

	var orderCount, dueCount int64
	require.NoError(t, db.Model(&lifecycledomain.State{}).
		Where("entity_type = ?", remittancedomain.EntityTypeCollectionOrder).
		Count(&orderCount).Error)
	assert.EqualValues(t, 4, orderCount)
	require.NoError(t, db.Model(&lifecycledomain.State{}).
		Where("entity_type = ?", duedomain.EntityTypeDue).
		Count(&dueCount).Error)
	assert.EqualValues(t, 5, dueCount)
}

func TestEnsureStateCatalog_Idempotent(t *testing.T) {
	db := setupCatalog(t)

	require.NoError(t, EnsureStateCatalog(db))
	require.NoError(t, EnsureStateCatalog(db))

	var total int64
	require.NoError(t, db.Model(&lifecycledomain.State{}).Count(&total).Error)
	assert.EqualValues(t, 15, total)
}
