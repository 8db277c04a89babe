package models

import "time"

// Transaction is the slice of a bank transaction the prompt layer needs.
type Transaction struct {
	Merchant    string  `json:"merchant"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
}

// SavingsGoal is an optional target attached to a profile.
type SavingsGoal struct {
	Amount   float64    `json:"amount"`
	Purpose  string     `json:"purpose"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Profile is what the ProfileStore hands the core for one user.
type Profile struct {
	UserID          string       `json:"user_id"`
	Name            string       `json:"name"`
	IntensityMode   string       `json:"intensity_mode"` // mild, moderate, insanity
	Salary          float64      `json:"salary,omitempty"`
	SavingsGoal     *SavingsGoal `json:"savings_goal,omitempty"`
	LearnedInsights []string     `json:"learned_insights,omitempty"`
}

// ProfileSnapshot is the static context tier, cached for 24h and rebuilt from
// the Profile on miss.
type ProfileSnapshot struct {
	Name            string       `json:"name"`
	IntensityMode   string       `json:"intensity_mode"`
	Salary          float64      `json:"salary"`
	SavingsGoal     *SavingsGoal `json:"savings_goal,omitempty"`
	LearnedInsights []string     `json:"learned_insights,omitempty"`
}

// HealthContext mirrors the health slice of the life-context provider.
type HealthContext struct {
	StressLevel            string  `json:"stress_level"` // low, moderate, elevated, high
	SleepHours             float64 `json:"sleep_hours"`
	SpendingRiskMultiplier float64 `json:"spending_risk_multiplier"`
}

// LocationContext mirrors the location slice of the life-context provider.
type LocationContext struct {
	Mode        string `json:"mode"` // home, work, traveling, shopping, dining
	City        string `json:"city"`
	IsTraveling bool   `json:"is_traveling"`
}

// CalendarContext carries upcoming-event hints.
type CalendarContext struct {
	UpcomingEvents     []string `json:"upcoming_events,omitempty"`
	TotalUpcomingCosts float64  `json:"total_upcoming_costs"`
	NextMajorEvent     string   `json:"next_major_event,omitempty"`
}

// SlowContext is the slow tier, cached for 1h.
type SlowContext struct {
	Health            HealthContext   `json:"health"`
	Location          LocationContext `json:"location"`
	Calendar          CalendarContext `json:"calendar"`
	WeeklySpendingAvg float64         `json:"weekly_spending_avg"`
	WeekendMultiplier float64         `json:"weekend_spending_multiplier"`
}

// LifeContext is the raw input the LifeContextProvider produces; the assembler
// projects it into a SlowContext on cache miss.
type LifeContext struct {
	Health struct {
		StressLevel    string  `json:"stress_level"`
		LastNightSleep float64 `json:"last_night_sleep"`
	} `json:"health"`
	Location struct {
		CurrentMode  string `json:"current_mode"`
		City         string `json:"city"`
		IsInHomeCity bool   `json:"is_in_home_city"`
	} `json:"location"`
	Calendar struct {
		UpcomingEvents     []string `json:"upcoming_events"`
		TotalUpcomingCosts float64  `json:"total_upcoming_costs"`
		NextMajorEvent     string   `json:"next_major_event"`
	} `json:"calendar"`
}

// DynamicInputs is the per-request financial state. Never cached.
type DynamicInputs struct {
	Balance            float64       `json:"balance"`
	HiddenBalance      float64       `json:"hidden_balance"`
	UpcomingBillsTotal float64       `json:"upcoming_bills"`
	TodaysSpending     float64       `json:"todays_spending"`
	RecentTransactions []Transaction `json:"recent_transactions"`
	WeeklyAvg          float64       `json:"weekly_avg"`
	WeekendMultiplier  float64       `json:"weekend_multiplier"`
}

// UserContext is the composed view handed to the adapters. It is assembled per
// request and never persisted.
type UserContext struct {
	UserID string
	ProfileSnapshot
	SlowContext
	Balance            float64
	HiddenBalance      float64
	UpcomingBillsTotal float64
	TodaysSpending     float64
	LastTransactions   []Transaction
}

// Message is one turn of the conversation log, oldest-first when in a slice.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
