package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// RoundsEndpoint is the endpoint for creating and listing voting rounds
	RoundsEndpoint = "/rounds"
	// RoundEndpoint is the endpoint to get one round's info
	RoundURLParam = "roundId"
	RoundEndpoint = "/rounds/{" + RoundURLParam + "}"
	// SignUpEndpoint is the endpoint for registering a voter key
	SignUpEndpoint = RoundEndpoint + "/signup"
	// MessagesEndpoint is the endpoint for publishing a voting message
	MessagesEndpoint = RoundEndpoint + "/messages"
	// DeactivateEndpoint is the endpoint for publishing a key deactivation request
	DeactivateEndpoint = RoundEndpoint + "/deactivate"
	// NewKeyEndpoint is the endpoint for minting a key from a deactivation nullifier
	NewKeyEndpoint = RoundEndpoint + "/newkey"
	// EndVotePeriodEndpoint is the endpoint for sealing the message queue
	EndVotePeriodEndpoint = RoundEndpoint + "/end"
	// ResultsEndpoint is the endpoint for the final tally of an ended round
	ResultsEndpoint = RoundEndpoint + "/results"
	// CommitmentsEndpoint is the endpoint for the round's batch commitment log
	CommitmentsEndpoint = RoundEndpoint + "/commitments"
	// CensusEndpoint is the endpoint for managing censuses
	CensusEndpoint = "/census"
	// CensusParticipantsEndpoint is the endpoint for census participants
	CensusParticipantsEndpoint = CensusEndpoint + "/participants"
	// CensusRootEndpoint is the endpoint for the census root
	CensusRootEndpoint = CensusEndpoint + "/root"
	// CensusSizeEndpoint is the endpoint for the census size
	CensusSizeEndpoint = CensusEndpoint + "/size"
	// CensusProofEndpoint is the endpoint for census membership proofs
	CensusProofEndpoint = CensusEndpoint + "/proof"
)
