package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCanViewOrder(t *testing.T) {
	owner := uuid.New()
	driver := uuid.New()
	order := &Order{ID: uuid.New(), UserID: owner, DriverID: &driver}

	assert.True(t, Principal{UserID: owner, Role: RoleUser}.CanViewOrder(order))
	assert.True(t, Principal{UserID: driver, Role: RoleDriver}.CanViewOrder(order))
	assert.True(t, Principal{UserID: uuid.New(), Role: RoleAdmin}.CanViewOrder(order))
	assert.False(t, Principal{UserID: uuid.New(), Role: RoleUser}.CanViewOrder(order))
	assert.False(t, Principal{UserID: uuid.New(), Role: RoleDriver}.CanViewOrder(order))

	// a driver id that happens to own the order is still judged as a driver
	assert.False(t, Principal{UserID: owner, Role: RoleDriver}.CanViewOrder(order))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("ADMIN")
	assert.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("root")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Offset: 0, Limit: 10}, Page{Offset: -3}.Normalize())
	assert.Equal(t, Page{Offset: 5, Limit: 100}, Page{Offset: 5, Limit: 500}.Normalize())

	page := NewOrderPage([]Order{{}, {}}, 5, Page{Offset: 2, Limit: 2})
	assert.True(t, page.HasMore)
	page = NewOrderPage([]Order{{}}, 5, Page{Offset: 4, Limit: 2})
	assert.False(t, page.HasMore)
}

func TestCapabilities(t *testing.T) {
	admin := Principal{UserID: uuid.New(), Role: RoleAdmin}
	user := Principal{UserID: uuid.New(), Role: RoleUser}
	driver := Principal{UserID: uuid.New(), Role: RoleDriver}

	assert.True(t, admin.CanSetStatus())
	assert.True(t, admin.CanListAllOrders())
	assert.False(t, admin.CanDeliver())

	assert.True(t, driver.CanDeliver())
	assert.False(t, driver.CanSetStatus())
	assert.False(t, driver.CanListAllOrders())

	assert.False(t, user.CanSetStatus())
	assert.False(t, user.CanDeliver())
	assert.False(t, user.CanListAllOrders())
}
