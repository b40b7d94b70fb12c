package retest

import (
	"context"

	"github.com/glebarez/sqlite"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/defect"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/execution"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

var _ = Describe("Retest coordination", func() {
	var (
		ctx        context.Context
		executions *execution.Service
		defects    *defect.Service
	)

	BeforeEach(func() {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())

		execStore := execution.NewStore(db)
		Expect(execStore.AutoMigrate()).To(Succeed())
		defectStore := defect.NewStore(db)
		Expect(defectStore.AutoMigrate()).To(Succeed())
		Expect(audit.NewStore(db).AutoMigrate()).To(Succeed())

		executions = execution.NewService(execStore, nil)
		defects = defect.NewService(defectStore, nil)
		NewCoordinator(executions, defects, nil).Wire()

		ctx = tenancy.WithProgram(context.Background(), tenancy.ProgramContext{Program: "default"})
		ctx = authz.WithIdentity(ctx, authz.Identity{User: "alice", Role: authz.RoleTester})
	})

	failingExecution := func() *execution.Execution {
		steps := make([]execution.StepResultInput, 6)
		for i := range steps {
			steps[i] = execution.StepResultInput{StepIndex: i + 1, Outcome: execution.StepPass}
		}
		steps[3] = execution.StepResultInput{
			StepIndex: 4,
			Outcome:   execution.StepFail,
			Reason:    "pricing total off by 0.01",
		}
		exec, err := executions.RecordExecution(ctx, execution.RecordExecutionRequest{
			TestCaseID: "tc-order-pricing",
			RunID:      "sit-cycle-1",
			Steps:      steps,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(exec.Status).To(Equal(execution.StatusFail))
		return exec
	}

	raiseDefect := func(originID string) *defect.Defect {
		d, err := defects.CreateDefect(ctx, defect.CreateDefectRequest{
			Title:             "order confirmation shows list price",
			Severity:          defect.SeverityS2,
			Priority:          defect.PriorityP2,
			OriginExecutionID: originID,
		})
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	walkToRetest := func(id string) {
		for _, req := range []defect.TransitionRequest{
			{TargetStatus: defect.StatusAssigned, AssignedTo: "bob"},
			{TargetStatus: defect.StatusInProgress},
			{TargetStatus: defect.StatusResolved, ResolutionType: defect.ResolutionFixed},
			{TargetStatus: defect.StatusRetest},
		} {
			_, err := defects.Transition(ctx, id, req)
			Expect(err).NotTo(HaveOccurred())
		}
	}

	linkedExecutions := func(defectID string) []execution.Execution {
		list, err := executions.ListExecutions(ctx, execution.ListFilter{DefectID: defectID}, 10, "")
		Expect(err).NotTo(HaveOccurred())
		return list.Items
	}

	It("seeds a pending retest execution when a defect enters retest", func() {
		By("raising a defect from a failed execution")
		origin := failingExecution()
		d := raiseDefect(origin.ID)
		Expect(d.TestCaseID).To(Equal("tc-order-pricing"))
		Expect(d.RunID).To(Equal("sit-cycle-1"))

		By("walking the defect to RETEST")
		walkToRetest(d.ID)

		By("finding the seeded execution on the ledger")
		seeded := linkedExecutions(d.ID)
		Expect(seeded).To(HaveLen(1))
		Expect(seeded[0].Status).To(Equal(execution.StatusNotRun))
		Expect(seeded[0].TotalSteps).To(Equal(origin.TotalSteps))
		Expect(seeded[0].ExecutionNumber).To(Equal(origin.ExecutionNumber + 1))
	})

	It("closes the defect when the retest passes", func() {
		origin := failingExecution()
		d := raiseDefect(origin.ID)
		walkToRetest(d.ID)
		seeded := linkedExecutions(d.ID)[0]

		By("recording a fully passing retest")
		steps := make([]execution.StepResultInput, seeded.TotalSteps)
		for i := range steps {
			steps[i] = execution.StepResultInput{StepIndex: i + 1, Outcome: execution.StepPass}
		}
		retested, err := executions.AppendSteps(ctx, seeded.ID, execution.AppendStepsRequest{Steps: steps})
		Expect(err).NotTo(HaveOccurred())
		Expect(retested.Status).To(Equal(execution.StatusPass))

		By("observing the defect close on the verdict")
		got, err := defects.GetDefect(ctx, d.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(defect.StatusClosed))

		history, err := defects.ListTransitions(ctx, d.ID)
		Expect(err).NotTo(HaveOccurred())
		last := history[len(history)-1]
		Expect(last.Action).To(Equal(defect.ActionRetestPass))
		Expect(last.RetestExecutionID).To(Equal(seeded.ID))
	})

	It("reopens the defect when the retest fails and restarts the cycle", func() {
		origin := failingExecution()
		d := raiseDefect(origin.ID)
		walkToRetest(d.ID)
		seeded := linkedExecutions(d.ID)[0]

		By("recording a retest that still fails at step 4")
		steps := make([]execution.StepResultInput, seeded.TotalSteps)
		for i := range steps {
			steps[i] = execution.StepResultInput{StepIndex: i + 1, Outcome: execution.StepPass}
		}
		steps[3] = execution.StepResultInput{StepIndex: 4, Outcome: execution.StepFail, Reason: "still off by 0.01"}
		_, err := executions.AppendSteps(ctx, seeded.ID, execution.AppendStepsRequest{Steps: steps})
		Expect(err).NotTo(HaveOccurred())

		By("observing the defect reopen with its clock stopped")
		got, err := defects.GetDefect(ctx, d.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(defect.StatusReopened))
		Expect(got.SLA).To(BeNil())
		Expect(got.AssignedTo).To(Equal("bob"))

		By("re-assigning for a fresh cycle with a fresh clock")
		reassigned, err := defects.Transition(ctx, d.ID, defect.TransitionRequest{TargetStatus: defect.StatusAssigned})
		Expect(err).NotTo(HaveOccurred())
		Expect(reassigned.AssignedTo).To(Equal("bob"))
		Expect(reassigned.SLA).NotTo(BeNil())
		Expect(reassigned.SLA.Status).To(Equal(defect.SLAOnTrack))

		By("the second trip to RETEST seeds a second retest execution")
		for _, req := range []defect.TransitionRequest{
			{TargetStatus: defect.StatusInProgress},
			{TargetStatus: defect.StatusResolved, ResolutionType: defect.ResolutionFixed},
			{TargetStatus: defect.StatusRetest},
		} {
			_, err := defects.Transition(ctx, d.ID, req)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(linkedExecutions(d.ID)).To(HaveLen(2))
	})

	It("treats a blocked retest as a failed one", func() {
		origin := failingExecution()
		d := raiseDefect(origin.ID)
		walkToRetest(d.ID)
		seeded := linkedExecutions(d.ID)[0]

		_, err := executions.AppendSteps(ctx, seeded.ID, execution.AppendStepsRequest{
			Steps: []execution.StepResultInput{
				{StepIndex: 1, Outcome: execution.StepBlocked, Reason: "test data locked by MM run"},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		got, err := defects.GetDefect(ctx, d.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(defect.StatusReopened))
	})

	It("leaves executions without a defect reference alone", func() {
		d := raiseDefect("")
		failingExecution()

		got, err := defects.GetDefect(ctx, d.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(defect.StatusNew))
	})

	It("does not seed a retest for a defect raised without an execution context", func() {
		d := raiseDefect("")
		walkToRetest(d.ID)
		Expect(linkedExecutions(d.ID)).To(BeEmpty())
	})

	It("rejects a manual close citing an execution that is not the defect's retest", func() {
		origin := failingExecution()
		d := raiseDefect(origin.ID)
		walkToRetest(d.ID)

		By("citing the original failing execution instead of the seeded retest")
		_, err := defects.Transition(ctx, d.ID, defect.TransitionRequest{
			TargetStatus:      defect.StatusClosed,
			RetestExecutionID: origin.ID,
		})
		Expect(err).To(HaveOccurred())

		got, getErr := defects.GetDefect(ctx, d.ID)
		Expect(getErr).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(defect.StatusRetest))
	})
})
