// Package service implements the polling control surface on top of biz.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewPollingService)
