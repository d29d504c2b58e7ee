package registry

// auditRegistryABI covers the AuditRegistry contract: four reads and the
// registerAudit write.
const auditRegistryABI = `[
  {
    "type": "function",
    "name": "registerAudit",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "contractHash", "type": "bytes32"},
      {"name": "stars", "type": "uint8"},
      {"name": "reportURI", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getTotalContracts",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "getAllAudits",
    "stateMutability": "view",
    "inputs": [
      {"name": "startIndex", "type": "uint256"},
      {"name": "limit", "type": "uint256"}
    ],
    "outputs": [
      {"name": "contractHashes", "type": "bytes32[]"},
      {"name": "stars", "type": "uint8[]"},
      {"name": "summaries", "type": "string[]"},
      {"name": "auditors", "type": "address[]"},
      {"name": "timestamps", "type": "uint256[]"}
    ]
  },
  {
    "type": "function",
    "name": "getAuditorHistory",
    "stateMutability": "view",
    "inputs": [{"name": "auditor", "type": "address"}],
    "outputs": [{"name": "", "type": "bytes32[]"}]
  },
  {
    "type": "function",
    "name": "getContractAudits",
    "stateMutability": "view",
    "inputs": [{"name": "contractHash", "type": "bytes32"}],
    "outputs": [
      {
        "name": "",
        "type": "tuple[]",
        "components": [
          {"name": "stars", "type": "uint8"},
          {"name": "summary", "type": "string"},
          {"name": "auditor", "type": "address"},
          {"name": "timestamp", "type": "uint256"}
        ]
      }
    ]
  }
]`
