package bus

// Topic names are part of the contract with the downstream services. The
// original deployment drifted between versioned wire names; these are the
// canonical ones.
const (
	// TopicCreateInfluencer carries CreateInfluencer commands from the BFF.
	TopicCreateInfluencer = "events-create-influencer"
	// TopicInfluencerEvents carries InfluencerRegistered events.
	TopicInfluencerEvents = "events-influencers"
	// TopicCampaignCommands carries RegisterCampaign commands.
	TopicCampaignCommands = "commands-campaigns"
	// TopicCampaignEvents carries campaign lifecycle events
	// (CampaignCreated, CampaignRejected, CampaignDeleted).
	TopicCampaignEvents = "events-campaigns"
	// TopicCampaignDeletion carries DeleteCampaign compensation commands.
	TopicCampaignDeletion = "events-campaigns-deletion"
	// TopicContractCommands carries CreateContract commands.
	TopicContractCommands = "commands-contracts"
	// TopicContractEvents carries ContractCreated events.
	TopicContractEvents = "events-contracts"
	// TopicContractErrors carries ContractError events.
	TopicContractErrors = "events-contracts-error"
)

// Consumer group names, one per service and purpose. Instances sharing a
// group receive disjoint subsets of a topic.
const (
	GroupInfluencersCommands = "influencers-sub-commands"
	GroupCampaignsCommands   = "campaigns-sub-commands"
	GroupCampaignsDeletion   = "campaigns-sub-deletion"
	GroupContractsCommands   = "contracts-sub-commands"
	GroupSagaInfluencers     = "saga-sub-events-influencers"
	GroupSagaCampaigns       = "saga-sub-events-campaigns"
	GroupSagaContracts       = "saga-sub-events-contracts"
	GroupSagaContractErrors  = "saga-sub-events-contracts-error"
)
