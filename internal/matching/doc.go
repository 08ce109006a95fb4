// Package matching turns stored or extracted preferences into MatchCriteria
// and filters the event catalog against them.
package matching
