package ethereum

// contractABI is the part of the loot pass contract this backend calls.
const contractABI = `[
  {"type":"function","name":"updateChallengeProgress","stateMutability":"nonpayable",
   "inputs":[{"name":"challengeId","type":"bytes32"},{"name":"encryptedData","type":"string"},{"name":"publicKey","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"gainExperience","stateMutability":"nonpayable",
   "inputs":[{"name":"passId","type":"uint256"},{"name":"encryptedAmount","type":"string"},{"name":"publicKey","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"purchaseBattlePass","stateMutability":"payable",
   "inputs":[{"name":"passId","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"upgradeToPremium","stateMutability":"payable",
   "inputs":[{"name":"passId","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"getPlayerLevel","stateMutability":"view",
   "inputs":[{"name":"passId","type":"uint256"}],
   "outputs":[{"name":"","type":"uint32"}]},
  {"type":"function","name":"getPlayerExperience","stateMutability":"view",
   "inputs":[{"name":"passId","type":"uint256"}],
   "outputs":[{"name":"","type":"uint32"}]},
  {"type":"function","name":"getRequiredExperience","stateMutability":"view",
   "inputs":[{"name":"passId","type":"uint256"}],
   "outputs":[{"name":"","type":"uint32"}]},
  {"type":"function","name":"isPremium","stateMutability":"view",
   "inputs":[{"name":"passId","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"isChallengeCompleted","stateMutability":"view",
   "inputs":[{"name":"challengeId","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getChallengeProgress","stateMutability":"view",
   "inputs":[{"name":"challengeId","type":"bytes32"}],
   "outputs":[{"name":"encryptedData","type":"string"},{"name":"publicKey","type":"string"},{"name":"timestamp","type":"uint256"}]}
]`
