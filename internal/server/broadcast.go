// Package server provides HTTP and WebSocket server functionality for pathsieve.
package server

const broadcastChannelSize = 256

// All broadcast methods (handleBroadcast, sendToAllClients, broadcastUpdate)
// live on RootSession in session.go.
