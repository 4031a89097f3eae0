// Package assets provides embedded static assets for the application.
//
// Reply texts are stored as text files under replies/ and embedded at
// compile time so copy changes never touch Go code.
package assets

import (
	_ "embed"
)

// EmojiMapJSON maps detector class labels to the emoji shown next to them
// in the object count summary.
//
//go:embed emoji_map.json
var EmojiMapJSON []byte

// --- Reply templates ---
//
// Templates are text/template sources rendered by package replies.

//go:embed replies/start.txt
var StartReply string

//go:embed replies/help.txt
var HelpReply string

//go:embed replies/about.txt
var AboutReply string

//go:embed replies/default.txt
var DefaultReply string

//go:embed replies/error.txt
var ErrorReply string

//go:embed replies/action-not-valid.txt
var ActionNotValidReply string

//go:embed replies/caption-not-defined.txt
var CaptionNotDefinedReply string

//go:embed replies/group-incomplete.txt
var GroupIncompleteReply string
