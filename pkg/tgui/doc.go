// Package tgui holds small Telegram UI helpers: HTML escaping for
// ParseMode="HTML", inline keyboards, and "scope:action:payload" callback
// data.
package tgui
