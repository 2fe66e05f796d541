package main

// Notifier blank imports: each import registers a trainer notification sink.

import (
	_ "github.com/Apsistec/fitos-app-sub001/internal/adapter/discord"
	_ "github.com/Apsistec/fitos-app-sub001/internal/adapter/email"
	_ "github.com/Apsistec/fitos-app-sub001/internal/adapter/slack"
)
