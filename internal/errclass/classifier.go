// Package errclass maps raw export failures onto a fixed taxonomy.
// Classification is pure: same message and code always yield the same result.
package errclass

import (
	"errors"
	"strings"
)

type Category string

const (
	CategoryAI         Category = "ai"
	CategoryPublishing Category = "publishing"
	CategoryFormat     Category = "format"
	CategoryNetwork    Category = "network"
	CategoryStorage    Category = "storage"
	CategoryUnknown    Category = "unknown"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Classification struct {
	Category    Category
	Severity    Severity
	Retryable   bool
	UserMessage string
}

// Error carries an optional machine code alongside the message, the shape
// producers and downstream calls raise failures in.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// CodeOf extracts the machine code from an error chain, if any.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Classify inspects the failure message and code with case-insensitive keyword
// matching. Categories are checked in a fixed order; the first match wins.
func Classify(message, code string) Classification {
	msg := strings.ToLower(message)
	c := strings.ToUpper(code)

	switch {
	case containsAny(msg, "ai", "openai", "gpt", "anthropic") || strings.Contains(c, "AI_"):
		return Classification{
			Category:    CategoryAI,
			Severity:    aiSeverity(msg),
			Retryable:   true,
			UserMessage: aiMessage(msg, c),
		}

	case containsAny(msg, "publish", "post", "twitter", "linkedin", "facebook", "instagram") ||
		strings.Contains(c, "PUBLISH_"):
		sev := SeverityMedium
		if strings.Contains(msg, "auth") {
			sev = SeverityHigh
		}
		return Classification{
			Category:    CategoryPublishing,
			Severity:    sev,
			Retryable:   !strings.Contains(msg, "auth") && !strings.Contains(msg, "token"),
			UserMessage: publishingMessage(msg, c),
		}

	case containsAny(msg, "format", "convert") || strings.Contains(c, "FORMAT_"):
		return Classification{
			Category:    CategoryFormat,
			Severity:    SeverityLow,
			Retryable:   false,
			UserMessage: "Unable to convert to the selected format. Please try a different format.",
		}

	case containsAny(msg, "network", "connection", "timeout") ||
		strings.Contains(c, "ECONN") || strings.Contains(c, "ETIMEDOUT"):
		return Classification{
			Category:    CategoryNetwork,
			Severity:    SeverityMedium,
			Retryable:   true,
			UserMessage: "Network error occurred. Please check your connection and try again.",
		}

	case containsAny(msg, "storage", "disk", "space") || strings.Contains(c, "ENOSPC"):
		return Classification{
			Category:    CategoryStorage,
			Severity:    SeverityHigh,
			Retryable:   false,
			UserMessage: "Storage error. Unable to save export file. Please contact support.",
		}

	default:
		return Classification{
			Category:    CategoryUnknown,
			Severity:    SeverityMedium,
			Retryable:   true,
			UserMessage: "An unexpected error occurred. Please try again or contact support.",
		}
	}
}

func aiSeverity(msg string) Severity {
	if strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") {
		return SeverityHigh
	}
	return SeverityMedium
}

func aiMessage(msg, code string) string {
	switch {
	case containsAny(msg, "timeout", "timed out") || strings.Contains(code, "TIMEOUT"):
		return "AI processing timed out. The content is taking longer than expected. Please try again or reduce the content size."
	case containsAny(msg, "quota", "limit exceeded") || strings.Contains(code, "QUOTA"):
		return "AI processing quota exceeded. You have reached your AI processing limit for this period. Please upgrade your plan or wait for your quota to reset."
	case strings.Contains(msg, "rate limit") || strings.Contains(code, "RATE_LIMIT"):
		return "AI processing rate limit reached. Too many requests in a short time. Please wait a moment and try again."
	case containsAny(msg, "service unavailable", "503") || strings.Contains(code, "UNAVAILABLE"):
		return "AI service is temporarily unavailable. Our AI service is experiencing issues. Please try again in a few minutes."
	case containsAny(msg, "invalid", "bad request") || strings.Contains(code, "400"):
		return "AI processing request invalid. The content format may not be supported. Please check your content and try again."
	case containsAny(msg, "unauthorized", "401") || strings.Contains(code, "AUTH"):
		return "AI service authentication failed. Please contact support to resolve this issue."
	default:
		return "AI processing failed. The AI service encountered an error while processing your content. Please try again in a few moments. If the problem persists, contact support."
	}
}

func publishingMessage(msg, code string) string {
	platform := extractPlatform(msg)

	switch {
	case containsAny(msg, "auth", "token", "expired") || strings.Contains(code, "AUTH"):
		return "Your " + platform + " connection has expired. Please reconnect your account in settings and try again."
	case strings.Contains(msg, "rate limit") || strings.Contains(code, "RATE_LIMIT"):
		return "Publishing rate limit reached for " + platform + ". Too many posts in a short time. Please wait before publishing again."
	case containsAny(msg, "validation", "invalid", "rejected"):
		return "Content validation failed for " + platform + ". Your content does not meet platform requirements. Please review and adjust your content (check length, media, hashtags, etc.)."
	case containsAny(msg, "duplicate", "already posted"):
		return "This content appears to be a duplicate on " + platform + ". Please create new content or wait before reposting."
	case containsAny(msg, "permission", "forbidden") || strings.Contains(code, "403"):
		return "Permission denied for " + platform + ". You may not have permission to post. Please check your account permissions."
	case containsAny(msg, "service unavailable", "503") || strings.Contains(code, "UNAVAILABLE"):
		return platform + " service is temporarily unavailable. Please try again in a few minutes."
	default:
		return "Publishing to " + platform + " failed. Please check your platform connection and try again. If the problem persists, contact support."
	}
}

var platforms = []string{"twitter", "linkedin", "facebook", "instagram", "youtube", "tiktok"}

func extractPlatform(msg string) string {
	for _, p := range platforms {
		if strings.Contains(msg, p) {
			return strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return "platform"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
