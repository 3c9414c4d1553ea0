package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"cuisine/internal/models"
	"cuisine/internal/notifications"
	"cuisine/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleReminder(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")
	in := service.ScheduleReminderInput{FireAt: time.Now().Add(time.Hour), Note: "Try the pastrami"}

	t.Run("needs notification permission", func(t *testing.T) {
		resp, raw := env.do(http.MethodPost, "/api/restaurants/katz/reminders", alice.Token, in)
		var body models.ErrorResponse
		env.decode(resp, raw, http.StatusForbidden, &body)
		assert.Equal(t, models.CodePermissionDenied, body.Code)
	})

	resp, raw := env.do(http.MethodPut, "/api/users/me/notifications", alice.Token, fiber.Map{"enabled": true})
	var me models.User
	env.decode(resp, raw, http.StatusOK, &me)
	assert.True(t, me.NotificationsEnabled)

	t.Run("fire time must be in the future", func(t *testing.T) {
		past := service.ScheduleReminderInput{FireAt: time.Now().Add(-time.Minute)}
		resp, raw := env.do(http.MethodPost, "/api/restaurants/katz/reminders", alice.Token, past)
		env.decode(resp, raw, http.StatusBadRequest, nil)
	})

	resp, raw = env.do(http.MethodPost, "/api/restaurants/katz/reminders", alice.Token, in)
	var reminder models.Reminder
	env.decode(resp, raw, http.StatusCreated, &reminder)
	assert.Equal(t, "katz", reminder.PlaceID)
	assert.Equal(t, "Katz's Delicatessen", reminder.RestaurantName)
	assert.Equal(t, "Try the pastrami", reminder.Body)
	assert.Equal(t, models.ReminderPending, reminder.Status)

	resp, raw = env.do(http.MethodGet, "/api/reminders", alice.Token, nil)
	var reminders []models.Reminder
	env.decode(resp, raw, http.StatusOK, &reminders)
	require.Len(t, reminders, 1)
	assert.Equal(t, reminder.ID, reminders[0].ID)

	t.Run("other users cannot cancel it", func(t *testing.T) {
		bob := env.signup("bob")
		resp, raw := env.do(http.MethodDelete, fmt.Sprintf("/api/reminders/%d", reminder.ID), bob.Token, nil)
		env.decode(resp, raw, http.StatusNotFound, nil)
	})

	resp, raw = env.do(http.MethodDelete, fmt.Sprintf("/api/reminders/%d", reminder.ID), alice.Token, nil)
	env.decode(resp, raw, http.StatusNoContent, nil)

	resp, raw = env.do(http.MethodDelete, fmt.Sprintf("/api/reminders/%d", reminder.ID), alice.Token, nil)
	env.decode(resp, raw, http.StatusNotFound, nil)
}

func TestScheduleReminder_UnknownPlace(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")

	resp, raw := env.do(http.MethodPut, "/api/users/me/notifications", alice.Token, fiber.Map{"enabled": true})
	env.decode(resp, raw, http.StatusOK, nil)

	resp, raw = env.do(http.MethodPost, "/api/restaurants/nowhere/reminders", alice.Token,
		service.ScheduleReminderInput{FireAt: time.Now().Add(time.Hour)})
	env.decode(resp, raw, http.StatusNotFound, nil)
}

func TestReminderDeliveredToUserStream(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice")

	resp, raw := env.do(http.MethodPut, "/api/users/me/notifications", alice.Token, fiber.Map{"enabled": true})
	env.decode(resp, raw, http.StatusOK, nil)

	resp, raw = env.do(http.MethodPost, "/api/restaurants/joes-pizza/reminders", alice.Token,
		service.ScheduleReminderInput{FireAt: time.Now().Add(50 * time.Millisecond)})
	env.decode(resp, raw, http.StatusCreated, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := env.srv.redis.Subscribe(ctx, notifications.UserChannel(alice.User.ID))
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := env.srv.reminderService.DispatchDue(ctx)
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, "Time to visit Joe's Pizza")

	resp, raw = env.do(http.MethodGet, "/api/reminders", alice.Token, nil)
	var reminders []models.Reminder
	env.decode(resp, raw, http.StatusOK, &reminders)
	require.Len(t, reminders, 1)
	assert.Equal(t, models.ReminderSent, reminders[0].Status)
}
