package meshsession

// Plejd mesh GATT profile, per spec.md §6.
const (
	ServiceUUID  = "31ba0001-6085-4726-be45-040c957391b5"
	CharPoll     = "31ba0003-6085-4726-be45-040c957391b5" // lightlevel/poll: write 0x01 to request, notifies batches
	CharData     = "31ba0004-6085-4726-be45-040c957391b5" // write encrypted frames; no notify
	CharLastData = "31ba0005-6085-4726-be45-040c957391b5" // notify decrypted-by-keystream frames
	CharAuth     = "31ba0009-6085-4726-be45-040c957391b5" // write/read for challenge/response
	CharPing     = "31ba000a-6085-4726-be45-040c957391b5" // write 1 byte, read 1 byte
)
