package domain

import "fmt"

var channelNames = map[ChannelID]string{
	0: "引継ぎ",
	1: "シフト",
	2: "業務連絡",
}

// ChannelName returns the display name of a channel.
func ChannelName(id ChannelID) string {
	if name, ok := channelNames[id]; ok {
		return name
	}
	return fmt.Sprintf("チャンネル%d", id)
}
