package bridge

// User-visible admin-room strings. Kept verbatim from spec.md §4.4/§4.7 —
// these are wire contract text, not prose to be paraphrased.
const (
	msgOnlyCreatorCanInvite = "Only the room creator can invite the Rocket.Chat bot user, please create a new room and invite the Rocket.Chat user to create an admin room."
	msgInternalError        = "An internal error occurred"
	msgTooManyMembers       = "Admin rooms must only contain the user that invites the bot. Too many members in the room, leaving."
	msgThirdPartyJoined     = "Another user join the admin room, leaving, please create a new admin room."
	msgNoServerConnected    = "No Rocket.Chat server is connected yet."
	msgWelcomeGreeting      = "Hi, I'm the Rocket.Chat application service"
	msgUnrecognizedCommand  = "Unrecognized command. Type `help` for a list of commands."
	msgHelp                 = "Commands:\n" +
		"  connect <url> [<token>] - register a Rocket.Chat server\n" +
		"  bridge [<server_id>] <matrix_room_id> <rocketchat_room_id> - bridge a room\n" +
		"  list - list connected Rocket.Chat servers\n" +
		"  help - show this message"
	msgTokenAlreadyConnected = "A Rocket.Chat server with that token is already connected."
)
