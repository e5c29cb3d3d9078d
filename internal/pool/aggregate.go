package pool

import (
	"sort"

	"github.com/offsetpool/offsetpool/internal/model"
)

// Aggregations are pure functions over the contribution slice. They are
// recomputed on every call rather than maintained incrementally; the pool
// is small enough that correctness beats caching here.

func monthlySummaryLocked(contributions []model.Contribution, month string) model.MonthlySummary {
	sum := model.MonthlySummary{Month: month, Contributors: []model.ContributorTotal{}}
	perUser := map[string]*model.ContributorTotal{}
	for _, c := range contributions {
		if c.Month != month {
			continue
		}
		sum.TotalUsdCents += c.AmountUsdCents
		sum.ContributionCount++
		ct, ok := perUser[c.UserID]
		if !ok {
			ct = &model.ContributorTotal{UserID: c.UserID}
			perUser[c.UserID] = ct
		}
		ct.TotalUsdCents += c.AmountUsdCents
		ct.Contributions++
	}
	for _, ct := range perUser {
		sum.Contributors = append(sum.Contributors, *ct)
	}
	sum.UniqueContributors = len(sum.Contributors)
	// Largest contributors first; user id breaks ties so output is stable.
	sort.Slice(sum.Contributors, func(i, j int) bool {
		a, b := sum.Contributors[i], sum.Contributors[j]
		if a.TotalUsdCents != b.TotalUsdCents {
			return a.TotalUsdCents > b.TotalUsdCents
		}
		return a.UserID < b.UserID
	})
	return sum
}

func userSummaryLocked(contributions []model.Contribution, userID string) model.UserSummary {
	sum := model.UserSummary{UserID: userID, Months: []model.UserMonthTotal{}}
	perMonth := map[string]*model.UserMonthTotal{}
	for _, c := range contributions {
		if c.UserID != userID {
			continue
		}
		sum.TotalUsdCents += c.AmountUsdCents
		sum.ContributionCount++
		if c.ContributedAt > sum.LastContributedAt {
			sum.LastContributedAt = c.ContributedAt
		}
		mt, ok := perMonth[c.Month]
		if !ok {
			mt = &model.UserMonthTotal{Month: c.Month}
			perMonth[c.Month] = mt
		}
		mt.TotalUsdCents += c.AmountUsdCents
		mt.Contributions++
	}
	for _, mt := range perMonth {
		sum.Months = append(sum.Months, *mt)
	}
	// Most recent month first.
	sort.Slice(sum.Months, func(i, j int) bool {
		return sum.Months[i].Month > sum.Months[j].Month
	})
	return sum
}
