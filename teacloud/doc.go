// Package teacloud implements a Discord bot that turns the last day of
// channel chatter into a word cloud image.
//
// When the slash command (or the optional prefix command) is used, the bot
// collects recent messages from the channel, or from every text channel in
// the server when invoked from the configured server-wide channel. URLs and
// spoilers are stripped, stopwords are dropped, and the remaining words are
// rendered with the wordcloud package, shaped and colored by the server's
// mask image when one exists. The image is then posted back to the channel.
//
// Key components of the package include:
//
//   - TeaCloud: wires everything together and manages the bot's lifecycle.
//   - Discord: handles the discord session, command registration and
//     gateway events.
//   - Collector: pages through channel history after a point in time.
//   - Pipeline: collect, normalize, count, resolve the mask, render and
//     write the image.
//   - Scheduler: optionally posts a server-wide cloud on a cron schedule.
//   - API: a small status API (health and counters).
//
// Interactions can arrive over the gateway websocket or, when the webhook
// server is enabled, as signed HTTP requests from Discord.
package teacloud
