// Package servermeta persists the singleton server record holding keys
// registered at runtime.
package servermeta
