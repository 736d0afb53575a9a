package model

// TaskKind identifies a pipeline stage. Each kind maps to one script and one
// result directory inside the project.
type TaskKind string

// Dataset preprocessing kinds, in pipeline order.
const (
	TaskRawReads       TaskKind = "raw_reads"
	TaskTrimmedReads   TaskKind = "trimmed_reads"
	TaskReadQuality    TaskKind = "read_quality"
	TaskTrimmedFasta   TaskKind = "trimmed_fasta"
	TaskAssembly       TaskKind = "assembly"
	TaskCDS            TaskKind = "cds"
	TaskEssentialGenes TaskKind = "essential_genes"
	TaskSSU            TaskKind = "ssu"
	TaskMyTaxa         TaskKind = "mytaxa"
	TaskMyTaxaScan     TaskKind = "mytaxa_scan"
	TaskDistances      TaskKind = "distances"
	TaskTaxonomy       TaskKind = "taxonomy"
	TaskStats          TaskKind = "stats"
)

// Project-wide kinds.
const (
	TaskProjectStats  TaskKind = "project_stats"
	TaskHAAIDistances TaskKind = "haai_distances"
	TaskAAIDistances  TaskKind = "aai_distances"
	TaskANIDistances  TaskKind = "ani_distances"
	TaskCladeFinding  TaskKind = "clade_finding"
	TaskSubclades     TaskKind = "subclades"
	TaskOGS           TaskKind = "ogs"
)

// String returns the string representation of the task kind.
func (k TaskKind) String() string {
	return string(k)
}

// PreprocessingTasks lists the per-dataset kinds in the order they must run.
var PreprocessingTasks = []TaskKind{
	TaskRawReads, TaskTrimmedReads, TaskReadQuality, TaskTrimmedFasta,
	TaskAssembly, TaskCDS, TaskEssentialGenes, TaskSSU, TaskMyTaxa,
	TaskMyTaxaScan, TaskDistances, TaskTaxonomy, TaskStats,
}

// ReadTasks are the preprocessing kinds that only apply when a dataset starts
// from raw reads.
var ReadTasks = []TaskKind{TaskRawReads, TaskTrimmedReads, TaskReadQuality, TaskTrimmedFasta}

// DistanceTasks are the project-wide distance estimations.
var DistanceTasks = []TaskKind{
	TaskProjectStats, TaskHAAIDistances, TaskAAIDistances, TaskANIDistances, TaskCladeFinding,
}

// IncladeTasks are the project-wide tasks run only in clade projects.
var IncladeTasks = []TaskKind{TaskSubclades, TaskOGS}

// DatasetResultDirs maps dataset kinds to their directory under data/.
var DatasetResultDirs = map[TaskKind]string{
	TaskRawReads:       "01.raw_reads",
	TaskTrimmedReads:   "02.trimmed_reads",
	TaskReadQuality:    "03.read_quality",
	TaskTrimmedFasta:   "04.trimmed_fasta",
	TaskAssembly:       "05.assembly",
	TaskCDS:            "06.cds",
	TaskEssentialGenes: "07.annotation/01.function/01.essential",
	TaskSSU:            "07.annotation/01.function/02.ssu",
	TaskMyTaxa:         "07.annotation/02.taxonomy/01.mytaxa",
	TaskMyTaxaScan:     "07.annotation/03.qa/02.mytaxa_scan",
	TaskDistances:      "09.distances",
	TaskTaxonomy:       "09.distances/05.taxonomy",
	TaskStats:          "90.stats",
}

// ProjectResultDirs maps project-wide kinds to their directory under data/.
var ProjectResultDirs = map[TaskKind]string{
	TaskProjectStats:  "90.stats",
	TaskHAAIDistances: "09.distances/01.haai",
	TaskAAIDistances:  "09.distances/02.aai",
	TaskANIDistances:  "09.distances/03.ani",
	TaskCladeFinding:  "10.clades/01.find",
	TaskSubclades:     "10.clades/02.ani",
	TaskOGS:           "10.clades/03.ogs",
}

// IsProjectTask reports whether k is a project-wide kind.
func (k TaskKind) IsProjectTask() bool {
	_, ok := ProjectResultDirs[k]
	return ok
}

// IsReadTask reports whether k only applies to read-based datasets.
func (k TaskKind) IsReadTask() bool {
	for _, r := range ReadTasks {
		if r == k {
			return true
		}
	}
	return false
}

// Stage selects a group of project-wide tasks.
type Stage string

const (
	StageDistance Stage = "distance"
	StageInclade  Stage = "inclade"
)

// Tasks returns the project-wide kinds belonging to the stage.
func (s Stage) Tasks() []TaskKind {
	switch s {
	case StageDistance:
		return DistanceTasks
	case StageInclade:
		return IncladeTasks
	}
	return nil
}

// ProjectType describes the collection a project holds.
type ProjectType string

const (
	ProjectTypeMixed       ProjectType = "mixed"
	ProjectTypeGenomes     ProjectType = "genomes"
	ProjectTypeClade       ProjectType = "clade"
	ProjectTypeMetagenomes ProjectType = "metagenomes"
)

// KnownProjectTypes maps each supported project type to its description.
var KnownProjectTypes = map[ProjectType]string{
	ProjectTypeMixed:       "Mixed collection of genomes, metagenomes, and viromes.",
	ProjectTypeGenomes:     "Collection of genomes.",
	ProjectTypeClade:       "Collection of closely-related genomes (ANI >= 90%).",
	ProjectTypeMetagenomes: "Collection of metagenomes and/or viromes.",
}

// BackendType identifies the execution backend named by the runtime
// configuration's "type" key.
type BackendType string

const (
	BackendBash  BackendType = "bash"
	BackendQsub  BackendType = "qsub"
	BackendMsub  BackendType = "msub"
	BackendSlurm BackendType = "slurm"
)

// BackendFamily groups backend types that share launch semantics.
type BackendFamily string

const (
	FamilyLocal BackendFamily = "local"
	FamilyQueue BackendFamily = "queue"
)

// Family returns the family the backend type belongs to. Unknown types are
// treated as queue submitters.
func (t BackendType) Family() BackendFamily {
	if t == BackendBash {
		return FamilyLocal
	}
	return FamilyQueue
}

// DatasetType describes the kind of sequence data a dataset holds.
type DatasetType string

const (
	DatasetGenome     DatasetType = "genome"
	DatasetSCGenome   DatasetType = "scgenome"
	DatasetPopGenome  DatasetType = "popgenome"
	DatasetMetagenome DatasetType = "metagenome"
	DatasetVirome     DatasetType = "virome"
)

// KnownDatasetTypes maps each supported dataset type to its description.
var KnownDatasetTypes = map[DatasetType]string{
	DatasetGenome:     "The genome from an isolate.",
	DatasetSCGenome:   "A Single-cell Amplified Genome (SAG).",
	DatasetPopGenome:  "A population genome (including metagenome-assembled genomes).",
	DatasetMetagenome: "A metagenome excluding viromes.",
	DatasetVirome:     "A viral metagenome.",
}

// IsMulti reports whether the dataset mixes several organisms.
func (t DatasetType) IsMulti() bool {
	return t == DatasetMetagenome || t == DatasetVirome
}

// Applies reports whether kind runs for datasets of type t. MyTaxa only
// classifies mixed communities; the scan, distances and taxonomy steps only
// make sense for single organisms.
func (t DatasetType) Applies(kind TaskKind) bool {
	switch kind {
	case TaskMyTaxa:
		return t.IsMulti()
	case TaskMyTaxaScan, TaskDistances, TaskTaxonomy:
		return !t.IsMulti()
	}
	return true
}
