package main

import (
	"context"
	"strings"
)

const startText = "Good day. I am Nestor, at your service.\n\n" +
	"You may address me freely. I shall do my utmost to assist, " +
	"though I make no promises regarding matters involving llamas.\n\n" +
	"Available commands:\n" +
	"/today  today's agenda\n" +
	"/week   the week ahead\n" +
	"/quit   leave"

// conversation is the part of the orchestrator a front end talks to.
type conversation interface {
	HandleMessage(ctx context.Context, userID int64, displayName string, text string) string
	TodaySummary(ctx context.Context, userID int64) string
	WeekSummary(ctx context.Context, userID int64) string
}

// dispatch routes one line of input. quit reports that the front end should exit.
func dispatch(ctx context.Context, c conversation, userID int64, displayName string, line string) (reply string, quit bool) {
	text := strings.TrimSpace(line)
	switch strings.ToLower(text) {
	case "/start", "/help":
		return startText, false
	case "/today":
		return c.TodaySummary(ctx, userID), false
	case "/week":
		return c.WeekSummary(ctx, userID), false
	case "/quit", "/exit":
		return "Very good. Until next time.", true
	}
	return c.HandleMessage(ctx, userID, displayName, text), false
}
